package invest

import (
	"context"
	"errors"
	"fmt"

	marketdata "algotrader/internal/domain/entity/marketdata"
	interfaces "algotrader/internal/domain/interfaces"

	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Feed streams exchange trade prints for the subscribed instruments.
type Feed struct {
	client *investgo.Client
	logger *logrus.Entry
}

func NewFeed(client *investgo.Client, logger *logrus.Logger) *Feed {
	return &Feed{client: client, logger: logger.WithField("component", "invest_feed")}
}

// Stream subscribes to trades and delivers them to sink until ctx is done
// or the stream fails. It returns nil on cancellation.
func (f *Feed) Stream(ctx context.Context, ids []string, sink interfaces.TickSink) error {
	stream, err := f.client.NewMarketDataStreamClient().MarketDataStream()
	if err != nil {
		return classify(fmt.Errorf("create market data stream: %w", err))
	}
	defer stream.Stop()

	trades, err := stream.SubscribeTrade(ids, pb.TradeSourceType_TRADE_SOURCE_EXCHANGE, false)
	if err != nil {
		return classify(fmt.Errorf("subscribe trades: %w", err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream.Listen()
	})
	g.Go(func() error {
		defer stream.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case trade, ok := <-trades:
				if !ok {
					return nil
				}
				tick, err := convertTrade(trade)
				if err != nil {
					f.logger.WithError(err).Warn("skip trade")
					continue
				}
				sink([]marketdata.Tick{tick})
			}
		}
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		return errors.New("market data stream closed")
	}
	return classify(err)
}

func classify(err error) error {
	if isPermanent(err) {
		return fmt.Errorf("%w: %v", interfaces.ErrFeedPermanent, err)
	}
	return err
}

func convertTrade(msg *pb.Trade) (marketdata.Tick, error) {
	if msg == nil {
		return marketdata.Tick{}, fmt.Errorf("%w: nil trade", marketdata.ErrMalformedTick)
	}
	id := msg.GetInstrumentUid()
	if id == "" {
		id = msg.GetFigi()
	}
	tick := marketdata.Tick{
		InstrumentID: id,
		Price:        quotationToFloat(msg.GetPrice()),
		Quantity:     msg.GetQuantity(),
		EventTime:    timestamp(msg.GetTime()),
	}
	return tick, tick.Validate()
}
