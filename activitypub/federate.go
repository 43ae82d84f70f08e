package activitypub

import (
	"encoding/json"
	"log"
	"net/url"

	"github.com/ziadhany/federatedcode/db"
)

// Federate enqueues an activity for delivery to each remote target inbox.
// Targets hosted on localDomain are skipped, their effects were already
// applied locally. Enqueue failures are logged, not propagated, so one bad
// target cannot block the others.
func Federate(database *db.DB, localDomain string, activity map[string]any, targets []string, keyId string) {
	body, err := json.Marshal(activity)
	if err != nil {
		log.Printf("Federate: failed to marshal activity: %v", err)
		return
	}
	for _, target := range targets {
		u, err := url.Parse(target)
		if err != nil || u.Host == "" {
			log.Printf("Federate: skipping malformed target %q", target)
			continue
		}
		if u.Host == localDomain {
			continue
		}
		if err := database.EnqueueFederateRequest(target, string(body), keyId); err != nil {
			log.Printf("Federate: failed to enqueue delivery to %s: %v", target, err)
		}
	}
}
