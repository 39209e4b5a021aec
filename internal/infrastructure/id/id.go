package id

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator issues uuid entity ids and human-facing order numbers.
type Generator struct{}

func NewGenerator() Generator { return Generator{} }

func (Generator) NewID() string { return uuid.NewString() }

// NewNumber formats an order number as ORD-YYYYMMDD-XXXXXXXX.
func (Generator) NewNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
