package receipt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	billingdomain "github.com/smallbiznis/orderbilling/internal/billing/domain"
	appconfig "github.com/smallbiznis/orderbilling/internal/config"
	"go.uber.org/fx"
)

var ErrOrderNotPaid = errors.New("order_not_paid")

const dateLayout = "2006-01-02 15:04 MST"

type Data struct {
	Order         billingdomain.Order
	Package       billingdomain.Package
	CustomerEmail string
}

// Generator renders PDF receipts for paid orders.
type Generator struct {
	issuer string
}

func NewGenerator(cfg appconfig.Config) *Generator {
	issuer := strings.TrimSpace(cfg.AppName)
	if issuer == "" {
		issuer = "billing-service"
	}
	return &Generator{issuer: issuer}
}

func (g *Generator) Render(_ context.Context, data Data) ([]byte, error) {
	order := data.Order
	if order.Status != billingdomain.OrderStatusPaid || order.PaidAt == nil {
		return nil, ErrOrderNotPaid
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(6, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(6, g.issuer, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New("Order: "+order.ID.String(), props.Text{Size: 9}),
			text.New("Date paid: "+order.PaidAt.UTC().Format(dateLayout), props.Text{Size: 9, Top: 5}),
			text.New("Ordered: "+order.CreatedAt.UTC().Format(dateLayout), props.Text{Size: 9, Top: 10}),
		),
		col.New(6).Add(
			text.New("Billed to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(billedTo(data), props.Text{Size: 9, Top: 5, Align: align.Right}),
		),
	)

	total := order.Amount.StringFixed(2) + " " + strings.ToUpper(order.Currency)
	m.AddRow(15,
		text.NewCol(12, total+" paid on "+order.PaidAt.UTC().Format(time.DateOnly), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(8, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))
	m.AddRow(12,
		text.NewCol(8, packageLabel(data), props.Text{Size: 9}),
		text.NewCol(4, total, props.Text{Size: 9, Align: align.Right}),
	)
	for _, feature := range data.Package.Features {
		m.AddRow(6, text.NewCol(12, "- "+feature, props.Text{Size: 8, Left: 4}))
	}
	m.AddRow(2, line.NewCol(12))
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, total, props.Text{Size: 9, Align: align.Right}),
	)
	if order.StripePaymentIntentID != nil {
		m.AddRow(10, text.NewCol(12, "Payment reference: "+*order.StripePaymentIntentID, props.Text{Size: 8, Top: 4}))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func billedTo(data Data) string {
	if data.CustomerEmail != "" {
		return data.CustomerEmail
	}
	return data.Order.UserID.String()
}

func packageLabel(data Data) string {
	if data.Package.Name != "" {
		return data.Package.Name
	}
	return string(data.Order.PackageType)
}

var Module = fx.Module("receipt",
	fx.Provide(NewGenerator),
)
