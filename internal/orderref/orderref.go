// Package orderref builds and parses the order references shared with the
// payment gateway. A reference carries the Telegram user id so a payment can
// still be attributed when its local record is missing.
package orderref

import (
	"regexp"
	"strconv"
	"sync"
	"time"
)

const prefix = "creative_"

var pattern = regexp.MustCompile(`creative_(\d+)_`)

// Encode returns "creative_<userID>_<unix millis>".
func Encode(userID int64, t time.Time) string {
	return prefix + strconv.FormatInt(userID, 10) + "_" + strconv.FormatInt(t.UnixMilli(), 10)
}

// Decode extracts the user id. ok is false for anything that does not carry
// a positive numeric id in the expected position.
func Decode(reference string) (userID int64, ok bool) {
	m := pattern.FindStringSubmatch(reference)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Sequence hands out references whose millisecond component strictly
// increases, so two intents created in the same millisecond never collide.
type Sequence struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewSequence(now func() time.Time) *Sequence {
	if now == nil {
		now = time.Now
	}
	return &Sequence{now: now}
}

func (s *Sequence) Next(userID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return Encode(userID, time.UnixMilli(ms))
}
