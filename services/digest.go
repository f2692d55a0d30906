package services

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"complex-watch/models"
	"complex-watch/utils"
)

// DigestPrinter renders change digests for the terminal.
type DigestPrinter struct {
	logger *utils.Logger
	out    io.Writer
	color  bool
	// Changes listed per collection; the rest are only counted.
	maxRows int
}

func NewDigestPrinter(logger *utils.Logger) *DigestPrinter {
	return &DigestPrinter{logger: logger, out: os.Stdout, color: true, maxRows: 15}
}

// WithWriter redirects output and disables ANSI colors.
func (p *DigestPrinter) WithWriter(w io.Writer) *DigestPrinter {
	p.out = w
	p.color = false
	return p
}

func (p *DigestPrinter) paint(code, s string) string {
	if !p.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Print writes one section per collection digest.
func (p *DigestPrinter) Print(digests []CollectionDigest, since time.Time) {
	sep := strings.Repeat("═", 60)
	thin := strings.Repeat("─", 60)

	fmt.Fprintf(p.out, "\n%s\n", p.paint("1;35", sep))
	fmt.Fprintf(p.out, "%s\n", p.paint("1;35", "  COMPLEX WATCH DIGEST since "+since.Format("2006-01-02 15:04")))
	fmt.Fprintf(p.out, "%s\n\n", p.paint("1;35", sep))

	if len(digests) == 0 {
		fmt.Fprintf(p.out, "  No tracked complexes\n")
	}

	for _, d := range digests {
		s := d.Summary
		title := "  Complex " + d.CollectionID
		if d.Name != "" {
			title += " (" + d.Name + ")"
		}
		fmt.Fprintf(p.out, "%s\n", p.paint("1;33", title))
		fmt.Fprintf(p.out, "  %s\n", thin)
		fmt.Fprintf(p.out, "  New %d | Removed %d | Up %d | Down %d | Unread %d\n",
			s.New, s.Removed, s.PriceUp, s.PriceDown, d.Unread)

		if s.MostSignificant != nil {
			m := s.MostSignificant
			fmt.Fprintf(p.out, "  Biggest move : %s %s → %s (%+.2f%%)\n",
				describe(*m), m.OldPriceRaw, m.NewPriceRaw, m.PriceDeltaPercent)
		}
		if len(d.Transactions) > 0 {
			last := d.Transactions[0]
			fmt.Fprintf(p.out, "  Deals        : %d, latest %s %s (%dF)\n",
				len(d.Transactions), last.TradeDate, dealPrice(last), last.Floor)
		}

		if s.Total == 0 {
			fmt.Fprintf(p.out, "  No changes in window\n\n")
			continue
		}

		for i, c := range d.Changes {
			if i == p.maxRows {
				fmt.Fprintf(p.out, "  ... %d more\n", len(d.Changes)-p.maxRows)
				break
			}
			fmt.Fprintf(p.out, "  %s %-32s %s\n", p.badge(c), truncate(describe(c), 30), priceColumn(c))
		}
		fmt.Fprintln(p.out)
	}

	fmt.Fprintf(p.out, "%s\n\n", p.paint("1;35", sep))
	p.logger.Debug("[digest] rendered %d collections", len(digests))
}

func (p *DigestPrinter) badge(c models.ChangeRecord) string {
	switch c.ChangeType {
	case models.ChangeNew:
		return p.paint("1;32", "[NEW] ")
	case models.ChangeRemoved:
		return p.paint("1;31", "[GONE]")
	case models.ChangePriceUp:
		return p.paint("1;31", "[UP]  ")
	case models.ChangePriceDown:
		return p.paint("1;34", "[DOWN]")
	}
	return "[?]   "
}

func describe(c models.ChangeRecord) string {
	parts := []string{c.ListingID}
	for _, v := range []string{c.BuildingLabel, c.FloorLabel, c.AreaLabel} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func priceColumn(c models.ChangeRecord) string {
	switch c.ChangeType {
	case models.ChangeNew:
		return c.NewPriceRaw
	case models.ChangeRemoved:
		return c.OldPriceRaw
	default:
		return fmt.Sprintf("%s → %s (%+d, %+.2f%%)", c.OldPriceRaw, c.NewPriceRaw, c.PriceDeltaUnits, c.PriceDeltaPercent)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func dealPrice(t models.Transaction) string {
	if t.FormattedPrice != "" {
		return t.FormattedPrice
	}
	return fmt.Sprintf("%d만", t.DealPrice)
}
