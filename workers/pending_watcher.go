package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"quest-hunt-system/models"

	"gorm.io/gorm"
)

// PendingWatcher polls the moderation queue depth and pings the moderators'
// webhook when new proofs arrive. Moderation latency is human-paced, so this
// is a notification aid only — the queue itself is ledger state, never held
// in memory.
type PendingWatcher struct {
	WebhookURL string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewPendingWatcher(db *gorm.DB) *PendingWatcher {
	return &PendingWatcher{
		WebhookURL: os.Getenv("MODERATION_WEBHOOK_URL"), // optional
		DB:         db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type pendingNotification struct {
	PendingCount int64      `json:"pending_count"`
	OldestSince  *time.Time `json:"oldest_since,omitempty"`
}

func (w *PendingWatcher) snapshot() (pendingNotification, error) {
	var note pendingNotification
	err := w.DB.Model(&models.ProgressRecord{}).
		Where("status = ?", models.StatusPending).
		Count(&note.PendingCount).Error
	if err != nil {
		return note, err
	}
	if note.PendingCount > 0 {
		var oldest models.ProgressRecord
		if err := w.DB.Where("status = ?", models.StatusPending).
			Order("created_at ASC").
			First(&oldest).Error; err == nil {
			note.OldestSince = &oldest.CreatedAt
		}
	}
	return note, nil
}

func (w *PendingWatcher) notify(ctx context.Context, note pendingNotification) error {
	payload, _ := json.Marshal(note)
	req, err := http.NewRequestWithContext(ctx, "POST", w.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call moderation webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("moderation webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// WatchPending runs until ctx is cancelled, announcing queue growth.
func WatchPending(ctx context.Context, w *PendingWatcher, pollInterval time.Duration) {
	log.Println("Starting pending-proof watcher...")

	var lastCount int64

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Pending-proof watcher stopped.")
			return
		case <-ticker.C:
			note, err := w.snapshot()
			if err != nil {
				log.Printf("❌ Error polling pending proofs: %v", err)
				continue
			}

			if note.PendingCount > lastCount {
				log.Printf("📸 Moderation queue grew: %d pending proof(s)", note.PendingCount)
				if w.WebhookURL != "" {
					if err := w.notify(ctx, note); err != nil {
						log.Printf("❌ Failed to notify moderators: %v", err)
						// Keep lastCount unchanged so the next tick retries
						continue
					}
				}
			}
			lastCount = note.PendingCount
		}
	}
}
