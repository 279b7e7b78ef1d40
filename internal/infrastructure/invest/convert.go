package invest

import (
	"math"
	"strings"
	"time"

	trading "algotrader/internal/domain/entity/trading"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var nanoScale = decimal.NewFromInt(1_000_000_000)

func quotationToFloat(q *pb.Quotation) float64 {
	if q == nil {
		return 0
	}
	return q.ToFloat()
}

func moneyToFloat(m *pb.MoneyValue) float64 {
	if m == nil {
		return 0
	}
	return float64(m.GetUnits()) + float64(m.GetNano())/1e9
}

// decimalToQuotation splits d into whole units and nanos without float error.
func decimalToQuotation(d decimal.Decimal) *pb.Quotation {
	units := d.Truncate(0)
	nano := d.Sub(units).Mul(nanoScale).Round(0)
	return &pb.Quotation{Units: units.IntPart(), Nano: int32(nano.IntPart())}
}

func fromOrderDirection(d pb.OrderDirection) trading.Direction {
	switch d {
	case pb.OrderDirection_ORDER_DIRECTION_BUY:
		return trading.DirectionBuy
	case pb.OrderDirection_ORDER_DIRECTION_SELL:
		return trading.DirectionSell
	default:
		return trading.DirectionNone
	}
}

// stopDirection is the side a protective stop trades: the opposite of the
// position it protects.
func stopDirection(position trading.Direction) pb.StopOrderDirection {
	if position == trading.DirectionSell {
		return pb.StopOrderDirection_STOP_ORDER_DIRECTION_BUY
	}
	return pb.StopOrderDirection_STOP_ORDER_DIRECTION_SELL
}

func orderStatus(s pb.OrderExecutionReportStatus) trading.OrderStatus {
	switch s {
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_FILL:
		return trading.OrderStatusComplete
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_REJECTED:
		return trading.OrderStatusRejected
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_CANCELLED:
		return trading.OrderStatusCancelled
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_PARTIALLYFILL:
		return trading.OrderStatusPending
	default:
		return trading.OrderStatusOpen
	}
}

func operationDirection(t pb.OperationType) trading.Direction {
	switch t {
	case pb.OperationType_OPERATION_TYPE_BUY:
		return trading.DirectionBuy
	case pb.OperationType_OPERATION_TYPE_SELL:
		return trading.DirectionSell
	default:
		return trading.DirectionNone
	}
}

func timestamp(ts *timestamppb.Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.AsTime().UTC()
}

// lotsFor converts a unit quantity into whole lots, rounding up so a
// square-off never leaves a remainder.
func lotsFor(units, lot int64) int64 {
	if lot <= 1 {
		return units
	}
	return int64(math.Ceil(float64(units) / float64(lot)))
}

// dayStart is local midnight of t's calendar day in loc.
func dayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// figiFor returns the resolved FIGI for an instrument uid, or the uid itself
// when the lookup failed at startup.
func figiFor(figis map[string]string, id string) string {
	if figi, ok := figis[id]; ok {
		return figi
	}
	return id
}

func matchID(ids map[string]string, candidates ...string) (string, bool) {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := ids[c]; ok {
			return c, true
		}
	}
	return "", false
}
