package importer

import (
	"cmp"
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/zulandar/jigged/internal/models"
)

// PricingPair is the quantity column and price column of one price tier.
type PricingPair struct {
	QtyColumn   string `json:"qty_column"`
	PriceColumn string `json:"price_column"`
}

// Tier-numbered header shapes, tried in order: qty1/price1,
// quantity1/price1, minqty1/unitprice1, min_qty_1/unit_price_1.
var pricingPatterns = [][2]*regexp.Regexp{
	{regexp.MustCompile(`^qty(\d+)$`), regexp.MustCompile(`^price(\d+)$`)},
	{regexp.MustCompile(`^quantity(\d+)$`), regexp.MustCompile(`^price(\d+)$`)},
	{regexp.MustCompile(`^minqty(\d+)$`), regexp.MustCompile(`^unitprice(\d+)$`)},
	{regexp.MustCompile(`^min_qty_(\d+)$`), regexp.MustCompile(`^unit_price_(\d+)$`)},
}

// DetectPricingPairs pairs quantity and price headers that share a tier
// number, e.g. "Qty 1" with "Price 1". Each header joins at most one pair;
// pairs are ordered by tier number.
func DetectPricingPairs(headers []string) []PricingPair {
	type tier struct {
		n    int
		pair PricingPair
	}
	var found []tier
	used := map[int]bool{}
	squash := make([]string, len(headers))
	for i, h := range headers {
		squash[i] = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "")
	}
	for _, pat := range pricingPatterns {
		for qi, qh := range squash {
			if used[qi] {
				continue
			}
			qm := pat[0].FindStringSubmatch(qh)
			if qm == nil {
				continue
			}
			for pi, ph := range squash {
				if used[pi] || pi == qi {
					continue
				}
				if pm := pat[1].FindStringSubmatch(ph); pm != nil && tierNumber(pm[1]) == tierNumber(qm[1]) {
					found = append(found, tier{tierNumber(qm[1]), PricingPair{headers[qi], headers[pi]}})
					used[qi], used[pi] = true, true
					break
				}
			}
		}
	}
	slices.SortStableFunc(found, func(a, b tier) int { return cmp.Compare(a.n, b.n) })
	out := make([]PricingPair, len(found))
	for i, t := range found {
		out[i] = t.pair
	}
	return out
}

func tierNumber(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// PriceTiers reads pairs from row (keyed by CSV column) into tiers sorted
// by quantity. Quantities are truncated to whole units and prices rounded
// to cents; a pair with a blank, unparseable, non-positive quantity or
// negative price is left out.
func PriceTiers(row map[string]string, pairs []PricingPair) []models.PriceTier {
	tiers := []models.PriceTier{}
	for _, p := range pairs {
		qs, ps := strings.TrimSpace(row[p.QtyColumn]), strings.TrimSpace(row[p.PriceColumn])
		if qs == "" || ps == "" {
			continue
		}
		qty, err := parseAmount(qs)
		if err != nil {
			continue
		}
		price, err := parseAmount(ps)
		if err != nil {
			continue
		}
		q := qty.IntPart()
		if q <= 0 || price.IsNegative() {
			continue
		}
		tiers = append(tiers, models.PriceTier{Qty: int(q), Price: price.Round(2).InexactFloat64()})
	}
	slices.SortStableFunc(tiers, func(a, b models.PriceTier) int { return cmp.Compare(a.Qty, b.Qty) })
	return tiers
}

func pricingJSON(tiers []models.PriceTier) string {
	raw, _ := json.Marshal(tiers)
	return string(raw)
}

// parseAmount reads a number written with an optional "$" and thousands
// separators.
func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(s), "$"), ",", ""))
}
