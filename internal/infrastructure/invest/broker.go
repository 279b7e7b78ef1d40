package invest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	trading "algotrader/internal/domain/entity/trading"

	"github.com/google/uuid"
	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// stopOrder is the protective stop attached to an entry order.
type stopOrder struct {
	stopID       string
	instrumentID string
	direction    trading.Direction
	quantity     int64
}

// Broker places market orders with a separate stop-loss stop order per
// entry. Domain quantities are in units; the API trades whole lots.
type Broker struct {
	orders     *investgo.OrdersServiceClient
	stops      *investgo.StopOrdersServiceClient
	operations *investgo.OperationsServiceClient
	accountID  string
	logger     *logrus.Entry

	// symbols maps instrument id to trading symbol; lots holds the
	// instrument lot multiplier and figis the FIGI the operations
	// history is keyed by.
	symbols map[string]string
	lots    map[string]int64
	figis   map[string]string
	loc     *time.Location

	mu       sync.Mutex
	attached map[string]stopOrder
}

// NewBroker resolves lot sizes and FIGIs for configs. loc is the session
// time zone whose midnight starts the operations history window.
func NewBroker(client *investgo.Client, accountID string, configs []trading.InstrumentConfig, loc *time.Location, logger *logrus.Logger) (*Broker, error) {
	if accountID == "" {
		return nil, errors.New("invest account id is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	b := &Broker{
		orders:     client.NewOrdersServiceClient(),
		stops:      client.NewStopOrdersServiceClient(),
		operations: client.NewOperationsServiceClient(),
		accountID:  accountID,
		logger:     logger.WithField("component", "invest_broker"),
		symbols:    make(map[string]string, len(configs)),
		lots:       make(map[string]int64, len(configs)),
		figis:      make(map[string]string, len(configs)),
		loc:        loc,
		attached:   make(map[string]stopOrder),
	}

	instruments := client.NewInstrumentsServiceClient()
	for _, cfg := range configs {
		b.symbols[cfg.InstrumentID] = cfg.TradingSymbol
		b.lots[cfg.InstrumentID] = 1
		resp, err := instruments.InstrumentByUid(cfg.InstrumentID)
		if err != nil {
			b.logger.WithError(err).WithField("instrument", cfg.InstrumentID).Warn("instrument lookup failed, assuming lot 1")
			continue
		}
		if lot := int64(resp.GetInstrument().GetLot()); lot > 0 {
			b.lots[cfg.InstrumentID] = lot
		}
		if figi := resp.GetInstrument().GetFigi(); figi != "" {
			b.figis[cfg.InstrumentID] = figi
		}
	}
	return b, nil
}

func (b *Broker) PlaceOrder(ctx context.Context, req trading.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lot := b.lot(req.InstrumentID)
	short := &investgo.PostOrderRequestShort{
		InstrumentId: req.InstrumentID,
		Quantity:     lotsFor(req.Quantity, lot),
		AccountId:    b.accountID,
		OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
		OrderId:      uuid.NewString(),
	}

	var (
		resp *investgo.PostOrderResponse
		err  error
	)
	if req.Direction == trading.DirectionSell {
		resp, err = b.orders.Sell(short)
	} else {
		resp, err = b.orders.Buy(short)
	}
	if err != nil {
		if isRejection(err) {
			return "", trading.Rejected("place", req.TradingSymbol, err)
		}
		return "", &trading.OrderError{Op: "place", Symbol: req.TradingSymbol, Err: err}
	}
	if resp.GetExecutionReportStatus() == pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_REJECTED {
		return "", trading.Rejected("place", req.TradingSymbol, errors.New(resp.GetMessage()))
	}
	orderID := resp.GetOrderId()

	if req.SquareOff {
		// flattening order: protective stops for the instrument are obsolete
		b.cancelStops(req.InstrumentID)
		return orderID, nil
	}

	stop := stopOrder{instrumentID: req.InstrumentID, direction: req.Direction, quantity: req.Quantity}
	stopID, err := b.postStop(stop, req.TriggerPrice)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": orderID,
			"symbol":   req.TradingSymbol,
		}).Error("entry filled but protective stop was not placed")
		return orderID, nil
	}
	stop.stopID = stopID
	b.mu.Lock()
	b.attached[orderID] = stop
	b.mu.Unlock()
	return orderID, nil
}

// ModifyOrder moves the stop attached to orderID by replacing it.
func (b *Broker) ModifyOrder(ctx context.Context, orderID string, triggerPrice decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	stop, ok := b.attached[orderID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", trading.ErrUnknownOrder, orderID)
	}
	if stop.stopID != "" {
		if _, err := b.stops.CancelStopOrder(b.accountID, stop.stopID); err != nil {
			return &trading.OrderError{Op: "modify", Symbol: b.symbols[stop.instrumentID], Err: err}
		}
	}
	stopID, err := b.postStop(stop, triggerPrice)
	if err != nil {
		stop.stopID = ""
		b.mu.Lock()
		b.attached[orderID] = stop
		b.mu.Unlock()
		return &trading.OrderError{Op: "modify", Symbol: b.symbols[stop.instrumentID], Err: err}
	}
	stop.stopID = stopID
	b.mu.Lock()
	b.attached[orderID] = stop
	b.mu.Unlock()
	return nil
}

// ListOrders merges live exchange orders with the executed operations since
// local midnight of the session day, which serve as the completed-order
// history.
func (b *Broker) ListOrders(ctx context.Context) ([]trading.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	live, err := b.orders.GetOrders(b.accountID)
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	var out []trading.Order
	for _, o := range live.GetOrders() {
		id, ok := matchID(b.symbols, o.GetInstrumentUid(), o.GetFigi())
		if !ok {
			continue
		}
		lot := b.lot(id)
		out = append(out, trading.Order{
			OrderID:         o.GetOrderId(),
			TradingSymbol:   b.symbols[id],
			InstrumentID:    id,
			TransactionType: fromOrderDirection(o.GetDirection()),
			Quantity:        o.GetLotsRequested() * lot,
			FilledQuantity:  o.GetLotsExecuted() * lot,
			AveragePrice:    moneyToFloat(o.GetExecutedOrderPrice()),
			Status:          orderStatus(o.GetExecutionReportStatus()),
			ExecutedAt:      timestamp(o.GetOrderDate()),
		})
	}

	now := time.Now()
	from := dayStart(now, b.loc)
	for id, symbol := range b.symbols {
		resp, err := b.operations.GetOperations(&investgo.GetOperationsRequest{
			Figi:      figiFor(b.figis, id),
			AccountId: b.accountID,
			State:     pb.OperationState_OPERATION_STATE_EXECUTED,
			From:      from,
			To:        now,
		})
		if err != nil {
			return nil, fmt.Errorf("get operations for %s: %w", symbol, err)
		}
		for _, op := range resp.GetOperations() {
			direction := operationDirection(op.GetOperationType())
			if direction == trading.DirectionNone {
				continue
			}
			out = append(out, trading.Order{
				OrderID:         op.GetId(),
				TradingSymbol:   symbol,
				InstrumentID:    id,
				TransactionType: direction,
				Quantity:        op.GetQuantity(),
				FilledQuantity:  op.GetQuantity() - op.GetQuantityRest(),
				AveragePrice:    moneyToFloat(op.GetPrice()),
				Status:          trading.OrderStatusComplete,
				ExecutedAt:      timestamp(op.GetDate()),
			})
		}
	}
	return out, nil
}

func (b *Broker) ListPositions(ctx context.Context) ([]trading.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := b.operations.GetPositions(b.accountID)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	var out []trading.Position
	for _, s := range resp.GetSecurities() {
		if id, ok := matchID(b.symbols, s.GetInstrumentUid(), s.GetFigi()); ok {
			out = append(out, trading.Position{TradingSymbol: b.symbols[id], InstrumentID: id, Quantity: s.GetBalance()})
		}
	}
	for _, f := range resp.GetFutures() {
		if id, ok := matchID(b.symbols, f.GetInstrumentUid(), f.GetFigi()); ok {
			out = append(out, trading.Position{TradingSymbol: b.symbols[id], InstrumentID: id, Quantity: f.GetBalance() * b.lot(id)})
		}
	}
	return out, nil
}

func (b *Broker) postStop(stop stopOrder, trigger decimal.Decimal) (string, error) {
	resp, err := b.stops.PostStopOrder(&investgo.PostStopOrderRequest{
		InstrumentId:   stop.instrumentID,
		Quantity:       lotsFor(stop.quantity, b.lot(stop.instrumentID)),
		StopPrice:      decimalToQuotation(trigger),
		Direction:      stopDirection(stop.direction),
		AccountId:      b.accountID,
		ExpirationType: pb.StopOrderExpirationType_STOP_ORDER_EXPIRATION_TYPE_GOOD_TILL_CANCEL,
		StopOrderType:  pb.StopOrderType_STOP_ORDER_TYPE_STOP_LOSS,
	})
	if err != nil {
		return "", err
	}
	return resp.GetStopOrderId(), nil
}

func (b *Broker) cancelStops(instrumentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for orderID, stop := range b.attached {
		if stop.instrumentID != instrumentID {
			continue
		}
		if stop.stopID != "" {
			if _, err := b.stops.CancelStopOrder(b.accountID, stop.stopID); err != nil {
				b.logger.WithError(err).WithField("stop_id", stop.stopID).Warn("cancel stop order failed")
			}
		}
		delete(b.attached, orderID)
	}
}

func (b *Broker) lot(instrumentID string) int64 {
	if lot, ok := b.lots[instrumentID]; ok && lot > 0 {
		return lot
	}
	return 1
}
