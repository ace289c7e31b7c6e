package binance

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"trading-backend/internal/domain"
)

const (
	FstreamBaseURL        = "wss://fstream.binance.com/ws/"
	TestnetFstreamBaseURL = "wss://stream.binancefuture.com/ws/"

	keepAliveInterval = 25 * time.Minute
	maxReconnectDelay = 60 * time.Second
)

// UserStream consumes the futures user-data stream and turns order fills
// into domain.FillEvent values for the reconciler. It reconnects with
// exponential backoff and keeps the listen key alive while running.
type UserStream struct {
	gateway   *Gateway
	wsBaseURL string
	events    chan domain.FillEvent
	stopChan  chan struct{}
	doneChan  chan struct{}
}

func NewUserStream(gateway *Gateway, isTestnet bool) *UserStream {
	wsBase := FstreamBaseURL
	if isTestnet {
		wsBase = TestnetFstreamBaseURL
	}
	return &UserStream{
		gateway:   gateway,
		wsBaseURL: wsBase,
		events:    make(chan domain.FillEvent, 64),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Events is the push feed consumed by the reconciler. The channel is closed
// when the stream shuts down.
func (u *UserStream) Events() <-chan domain.FillEvent {
	return u.events
}

// Run blocks until Stop is called, reconnecting as needed.
func (u *UserStream) Run() {
	defer close(u.doneChan)
	defer close(u.events)

	retries := 0
	for {
		select {
		case <-u.stopChan:
			return
		default:
		}

		if err := u.serve(); err != nil {
			retries++
			delay := time.Duration(1<<uint(min(retries, 6))) * time.Second
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			log.Printf("UserStream: connection lost (%v), reconnecting in %v", err, delay)
			select {
			case <-time.After(delay):
			case <-u.stopChan:
				return
			}
			continue
		}
		// Clean exit means Stop was requested.
		return
	}
}

// Stop terminates the stream and waits for the read loop to exit.
func (u *UserStream) Stop() {
	close(u.stopChan)
	<-u.doneChan
}

func (u *UserStream) serve() error {
	key, err := u.gateway.ListenKey()
	if err != nil {
		return err
	}
	log.Println("UserStream: listen key created, connecting")

	conn, _, err := websocket.DefaultDialer.Dial(u.wsBaseURL+key, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Keep-alive and stop watcher share one goroutine; closing the
	// connection unblocks the read loop below.
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := u.gateway.KeepAliveListenKey(); err != nil {
					log.Printf("UserStream: keep-alive error: %v", err)
				}
			case <-u.stopChan:
				conn.Close()
				return
			case <-stopPing:
				return
			}
		}
	}()

	log.Println("UserStream: connected")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-u.stopChan:
				return nil
			default:
				return err
			}
		}
		u.handleMessage(msg)
	}
}

// orderTradeUpdate mirrors the ORDER_TRADE_UPDATE payload fields we consume.
type orderTradeUpdate struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		Side          string `json:"S"`
		PositionSide  string `json:"ps"`
		OrigType      string `json:"ot"`
		ExecutionType string `json:"x"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		FilledQty     string `json:"z"`
		AvgPrice      string `json:"ap"`
		LastPrice     string `json:"L"`
		Commission    string `json:"n"`
		RealizedPnL   string `json:"rp"`
		ReduceOnly    bool   `json:"R"`
	} `json:"o"`
}

func (u *UserStream) handleMessage(msg []byte) {
	var probe struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return
	}
	if probe.EventType != "ORDER_TRADE_UPDATE" {
		return
	}

	var update orderTradeUpdate
	if err := json.Unmarshal(msg, &update); err != nil {
		log.Printf("UserStream: failed to parse order update: %v", err)
		return
	}

	o := update.Order
	if o.Status != "FILLED" {
		return
	}

	qty, _ := strconv.ParseFloat(o.FilledQty, 64)
	price, _ := strconv.ParseFloat(o.AvgPrice, 64)
	if price <= 0 {
		price, _ = strconv.ParseFloat(o.LastPrice, 64)
	}
	commission, _ := strconv.ParseFloat(o.Commission, 64)
	realized, _ := strconv.ParseFloat(o.RealizedPnL, 64)

	ev := domain.FillEvent{
		OrderID:      o.OrderID,
		Symbol:       o.Symbol,
		Side:         o.Side,
		PositionSide: o.PositionSide,
		OrderType:    o.OrigType,
		Quantity:     qty,
		Price:        price,
		Commission:   commission,
		RealizedPnL:  realized,
		IsClose:      o.ReduceOnly || realized != 0,
		Time:         time.UnixMilli(update.EventTime),
	}

	select {
	case u.events <- ev:
	default:
		log.Printf("UserStream: WARNING: event buffer full, dropping fill for order %d", ev.OrderID)
	}
}
