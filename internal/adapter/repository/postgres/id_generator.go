package postgres

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iho/eventledger/internal/domain"
)

// ULIDGenerator implements usecase.IDGenerator. IDs generated within the same
// millisecond are strictly increasing.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewULIDGenerator creates a new ULIDGenerator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Generate generates a new ULID.
func (g *ULIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

func (g *ULIDGenerator) NewAccountID() domain.AccountID {
	return domain.AccountID(g.Generate())
}

func (g *ULIDGenerator) NewEventID() domain.EventID {
	return domain.EventID(g.Generate())
}

func (g *ULIDGenerator) NewReservationID() domain.ReservationID {
	return domain.ReservationID(g.Generate())
}
