package activitypub

import (
	"bytes"
	"crypto/rsa"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ziadhany/federatedcode/db"
	"github.com/ziadhany/federatedcode/domain"
	"github.com/ziadhany/federatedcode/util"
)

// drainMu serializes queue drains so the background worker and a manual
// federate run never deliver the same request twice.
var drainMu sync.Mutex

// StartDeliveryWorker starts the background worker that drains the
// delivery queue on a fixed interval.
func StartDeliveryWorker(conf *util.AppConfig, database *db.DB, key *rsa.PrivateKey) {
	log.Println("Starting delivery worker...")

	ticker := time.NewTicker(time.Duration(conf.Conf.DeliverySeconds) * time.Second)
	go func() {
		for range ticker.C {
			if err := DrainQueue(conf, database, key); err != nil {
				log.Printf("DeliveryWorker: drain failed: %v", err)
			}
		}
	}()
}

// DrainQueue delivers pending requests oldest first. Each request is
// attempted once per drain; failures are rescheduled with exponential
// backoff and given up after db.MaxDeliveryAttempts. A request is marked
// done only when the remote server accepted it.
func DrainQueue(conf *util.AppConfig, database *db.DB, key *rsa.PrivateKey) error {
	drainMu.Lock()
	defer drainMu.Unlock()

	err, items := database.ReadPendingFederateRequests(50)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	if items == nil || len(*items) == 0 {
		return nil
	}

	log.Printf("DeliveryWorker: processing %d pending deliveries", len(*items))

	for _, item := range *items {
		err := deliver(&item, key)
		if err == nil {
			log.Printf("DeliveryWorker: delivered to %s", item.Target)
			if err := database.MarkFederateRequestDone(item.Id); err != nil {
				return err
			}
			continue
		}

		item.Attempts++
		delay := retryDelay(item.Attempts)
		if item.Attempts >= db.MaxDeliveryAttempts {
			log.Printf("DeliveryWorker: giving up on %s after %d attempts: %v",
				item.Target, item.Attempts, err)
		} else {
			log.Printf("DeliveryWorker: delivery to %s failed (attempt %d), retry in %s: %v",
				item.Target, item.Attempts, delay, err)
		}
		markErr := database.MarkFederateRequestFailed(
			item.Id, item.Attempts, time.Now().Add(delay), ErrorKind(err), err.Error())
		if markErr != nil {
			return markErr
		}
	}
	return nil
}

// retryDelay returns the wait before retry number attempts, growing
// exponentially from one minute and capped at a day.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Minute
	b.RandomizationFactor = 0
	b.Multiplier = 4
	b.MaxInterval = 24 * time.Hour

	delay := b.InitialInterval
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// deliver posts one signed request to its target inbox.
func deliver(item *domain.FederateRequest, key *rsa.PrivateKey) error {
	body := []byte(item.Body)
	req, err := http.NewRequest(http.MethodPost, item.Target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: bad target %s: %v", ErrDelivery, item.Target, err)
	}

	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", "federatedcode")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", BodyDigest(body))

	if err := SignRequest(req, key, item.KeyId); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: remote server returned status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}
