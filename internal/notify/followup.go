package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FollowupNotifier appends notifications as JSON lines to a file that
// operators work through by hand.
type FollowupNotifier struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewFollowupNotifier creates a notifier writing to path. The parent
// directory is created on first use.
func NewFollowupNotifier(path string) *FollowupNotifier {
	return &FollowupNotifier{path: path, now: time.Now}
}

// Send appends the notification.
func (f *FollowupNotifier) Send(ctx context.Context, n Notification) error {
	if n.Time.IsZero() {
		n.Time = f.now().UTC()
	}
	line, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create followup directory: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open followup file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write followup: %w", err)
	}
	return nil
}
