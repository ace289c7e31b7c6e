package usecase

import (
	"log"

	"trading-backend/internal/infrastructure/fcm"
	"trading-backend/internal/repository"
)

// TradeAlert is one push notification queued for delivery.
type TradeAlert struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notifier delivers trade alerts over FCM from its own goroutine so the
// trading path never waits on notification delivery. Subscriber errors are
// logged and swallowed.
type Notifier struct {
	fcmClient *fcm.Client
	tokenRepo *repository.TokenRepository
	alerts    chan TradeAlert
	stopChan  chan struct{}
	doneChan  chan struct{}
}

func NewNotifier(fcmClient *fcm.Client, tokenRepo *repository.TokenRepository) *Notifier {
	return &Notifier{
		fcmClient: fcmClient,
		tokenRepo: tokenRepo,
		alerts:    make(chan TradeAlert, 64),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Notify queues an alert without blocking. A full queue drops the alert;
// alerting is fire-and-forget and must never stall trading.
func (n *Notifier) Notify(title, body string, data map[string]string) {
	select {
	case n.alerts <- TradeAlert{Title: title, Body: body, Data: data}:
	default:
		log.Printf("Notifier: queue full, dropping alert %q", title)
	}
}

// Run delivers queued alerts until Stop is called.
func (n *Notifier) Run() {
	defer close(n.doneChan)

	for {
		select {
		case alert := <-n.alerts:
			n.send(alert)
		case <-n.stopChan:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case alert := <-n.alerts:
					n.send(alert)
				default:
					return
				}
			}
		}
	}
}

// Stop stops delivery after draining the queue.
func (n *Notifier) Stop() {
	close(n.stopChan)
	<-n.doneChan
}

func (n *Notifier) send(alert TradeAlert) {
	if n.fcmClient == nil || !n.fcmClient.IsEnabled() {
		return
	}

	tokens := n.tokenRepo.Tokens()
	if len(tokens) == 0 {
		return
	}

	if err := n.fcmClient.SendMulticast(tokens, alert.Title, alert.Body, alert.Data); err != nil {
		log.Printf("Notifier: send failed for %q: %v", alert.Title, err)
	}
}
