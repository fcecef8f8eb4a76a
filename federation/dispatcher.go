package federation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vireonet/vireo/db"
	"github.com/vireonet/vireo/domain"
	"github.com/vireonet/vireo/util"
)

const (
	dispatchTickInterval = 5 * time.Second
	dispatchBatchSize    = 100
)

// Dispatcher drains the outbound delivery queue. Every queued item is one
// object bound for one inbox on one peer node; the queue survives restarts
// because it lives in sqlite, not memory.
type Dispatcher struct {
	db       *db.DB
	registry *Registry
	conf     *util.AppConfig
	client   *http.Client
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(database *db.DB, registry *Registry, conf *util.AppConfig) *Dispatcher {
	return &Dispatcher{
		db:       database,
		registry: registry,
		conf:     conf,
		client: &http.Client{
			Timeout: time.Duration(conf.Conf.DeliveryTimeoutSec) * time.Second,
		},
		stop: make(chan struct{}),
	}
}

// Enqueue serializes the object once and queues one delivery per remote
// recipient. Local recipients need no queue entry; the object is already in
// the database they read from.
func (d *Dispatcher) Enqueue(obj Object, recipients *RecipientSet) error {
	if len(recipients.Remote) == 0 {
		return nil
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	authorFQID := AuthorOf(obj)

	for _, rcpt := range recipients.Remote {
		item := &domain.DeliveryAttempt{
			Id:            uuid.New(),
			ObjectFQID:    obj.FQID(),
			AuthorFQID:    authorFQID,
			NodeId:        rcpt.Node.Id,
			RecipientFQID: rcpt.RecipientFQID,
			Payload:       string(payload),
			Attempts:      0,
			NextRetryAt:   time.Now(),
			CreatedAt:     time.Now(),
		}
		if err := d.db.EnqueueDelivery(item); err != nil {
			return err
		}
	}
	log.Printf("Dispatcher: Queued %s for %d remote recipients", obj.FQID(), len(recipients.Remote))
	return nil
}

func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(dispatchTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				d.processQueue()
			}
		}
	}()
	log.Println("Dispatcher: Delivery worker started")
}

func (d *Dispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()
}

// processQueue picks up everything due and works each peer node concurrently.
// Within one node the batch stays in enqueue order, and a failed item parks
// every later item by the same author so per-author ordering holds.
func (d *Dispatcher) processQueue() {
	err, due := d.db.ReadDueDeliveries(dispatchBatchSize)
	if err != nil {
		log.Println("Dispatcher: Reading due deliveries failed:", err)
		return
	}
	if len(*due) == 0 {
		return
	}

	perNode := make(map[uuid.UUID][]domain.DeliveryAttempt)
	for _, item := range *due {
		perNode[item.NodeId] = append(perNode[item.NodeId], item)
	}

	var wg sync.WaitGroup
	for nodeId, items := range perNode {
		wg.Add(1)
		go func(nodeId uuid.UUID, items []domain.DeliveryAttempt) {
			defer wg.Done()
			d.processNodeBatch(nodeId, items)
		}(nodeId, items)
	}
	wg.Wait()
}

func (d *Dispatcher) processNodeBatch(nodeId uuid.UUID, items []domain.DeliveryAttempt) {
	node, err := d.registry.LookupById(nodeId)
	if err != nil {
		// Node was removed while deliveries were queued. Nothing left to
		// deliver to, so drop the whole batch.
		for _, item := range items {
			d.abandon(&item, "node removed")
		}
		return
	}
	if !node.Enabled {
		for _, item := range items {
			d.abandon(&item, "node disabled")
		}
		return
	}

	blockedUntil := make(map[string]time.Time)
	for i := range items {
		item := &items[i]
		if until, blocked := blockedUntil[item.AuthorFQID]; blocked {
			// An earlier object by this author failed; sending this one now
			// would reorder the author's stream on the receiver. Defer it
			// behind the failed item so a later worker cycle cannot pick it
			// up while the earlier one is still waiting for its retry.
			if !until.IsZero() {
				if err := d.db.DeferDelivery(item.Id, until); err != nil {
					log.Println("Dispatcher: Parking delivery item failed:", err)
				}
			}
			continue
		}
		if err := d.deliver(node, item); err != nil {
			blockedUntil[item.AuthorFQID] = d.recordFailure(item, err)
		} else {
			if err := d.db.DeleteDelivery(item.Id); err != nil {
				log.Println("Dispatcher: Removing delivered item failed:", err)
			}
		}
	}
}

// inboxURL is the POST target: the recipient author's inbox, or the node's
// shared inbox when the item carries no recipient.
func inboxURL(node *domain.Node, item *domain.DeliveryAttempt) string {
	if item.RecipientFQID == "" {
		return node.BaseURL + "/api/inbox"
	}
	return item.RecipientFQID + "/inbox"
}

func (d *Dispatcher) deliver(node *domain.Node, item *domain.DeliveryAttempt) error {
	req, err := http.NewRequest(http.MethodPost, inboxURL(node, item), bytes.NewReader([]byte(item.Payload)))
	if err != nil {
		return err
	}
	req.SetBasicAuth(node.OutboundUsername, node.OutboundPassword)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Printf("Dispatcher: Delivered %s to %s (%d)", item.ObjectFQID, node.Name, resp.StatusCode)
		return nil
	}
	return fmt.Errorf("%w: node %s returned %d", ErrDeliveryRefused, node.Name, resp.StatusCode)
}

// recordFailure schedules the next attempt with doubled delay, or gives the
// item up to the failure log once the attempt budget is spent. Returns the
// time the item waits until, so later same-author items can be parked behind
// it; zero when the item was abandoned and blocks nothing anymore.
func (d *Dispatcher) recordFailure(item *domain.DeliveryAttempt, cause error) time.Time {
	item.Attempts++
	if item.Attempts >= d.conf.Conf.MaxAttempts {
		d.abandon(item, cause.Error())
		return time.Time{}
	}

	delay := d.backoff(item.Attempts)
	nextRetryAt := time.Now().Add(delay)
	log.Printf("Dispatcher: Delivery of %s failed (attempt %d/%d, retrying in %s): %v",
		item.ObjectFQID, item.Attempts, d.conf.Conf.MaxAttempts, delay, cause)
	if err := d.db.UpdateDeliveryAttempt(item.Id, item.Attempts, cause.Error(), nextRetryAt); err != nil {
		log.Println("Dispatcher: Updating delivery attempt failed:", err)
	}
	return nextRetryAt
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	base := time.Duration(d.conf.Conf.BackoffBaseSec) * time.Second
	ceiling := time.Duration(d.conf.Conf.BackoffCapSec) * time.Second
	delay := base << (attempts - 1)
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}
	return delay
}

// abandon moves the item to the failure log. Attempts is recorded as-is:
// callers that performed a delivery have already counted it, the
// removed/disabled-node paths never attempted one.
func (d *Dispatcher) abandon(item *domain.DeliveryAttempt, cause string) {
	log.Printf("Dispatcher: Abandoning delivery of %s: %s", item.ObjectFQID, cause)
	failure := &domain.DeliveryFailure{
		Id:         item.Id,
		ObjectFQID: item.ObjectFQID,
		NodeId:     item.NodeId,
		Attempts:   item.Attempts,
		LastStatus: cause,
		FailedAt:   time.Now(),
	}
	if err := d.db.InsertDeliveryFailure(failure); err != nil {
		log.Println("Dispatcher: Writing failure record failed:", err)
	}
	if err := d.db.DeleteDelivery(item.Id); err != nil {
		log.Println("Dispatcher: Removing abandoned item failed:", err)
	}
}
