package production

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/warp/coupon-engine/coupon"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Printed report layout used on the production floor.
const (
	reportDateLayout = "02-Jan-2006"
	reportTimeLayout = "15:04"
)

// WriteReport renders the production sheet for one batch: a header with the
// batch details, then one line per coupon ordered by box and serial.
func WriteReport(w io.Writer, b Batch, coupons []coupon.CouponRecord) error {
	ordered := make([]coupon.CouponRecord, len(coupons))
	copy(ordered, coupons)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Box != ordered[j].Box {
			return ordered[i].Box < ordered[j].Box
		}
		return ordered[i].Serial < ordered[j].Serial
	})

	amounts := amountPrinter()
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "No Batch: %d\n", b.Number)
	fmt.Fprintf(bw, "Nama Operator: %s\n", b.OperatorName)
	fmt.Fprintf(bw, "Lokasi: %s\n", b.Location)
	fmt.Fprintf(bw, "Tanggal / Jam: %s / %s\n\n",
		b.ProductionDate.Format(reportDateLayout), b.ProductionDate.Format(reportTimeLayout))
	fmt.Fprintln(bw, "No Box | No Kupon | Nominal | Keterangan")

	for _, c := range ordered {
		label := ""
		if c.Value == 0 {
			label = c.Label
		}
		fmt.Fprintf(bw, "%d | %s | %s | %s\n", c.Box, c.Serial, amounts.Sprintf("%d", c.Value), label)
	}
	return bw.Flush()
}

// amountPrinter formats prize amounts the Indonesian way, 100000 as
// "100.000".
func amountPrinter() *message.Printer {
	return message.NewPrinter(language.Indonesian)
}
