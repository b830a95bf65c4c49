package challenge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"joingate/internal/captcha/models"
	"joingate/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryStore(WithMemoryClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) record() *models.ChallengeRecord {
	return models.NewChallengeRecord("c-1", "10001", "20001", models.Puzzle{A: 3, B: 4}, s.now)
}

func (s *InMemoryStoreSuite) TestPutGet() {
	s.Run("returns stored record", func() {
		s.Require().NoError(s.store.Put(s.ctx, "a@g", s.record(), time.Minute))

		got, err := s.store.Get(s.ctx, "a@g")
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(7, got.ExpectedAnswer)
		s.Equal(models.SubjectID("10001"), got.Subject)
	})

	s.Run("missing key returns nil without error", func() {
		got, err := s.store.Get(s.ctx, "missing@g")
		s.NoError(err)
		s.Nil(got)
	})

	s.Run("stored value is a copy", func() {
		rec := s.record()
		s.Require().NoError(s.store.Put(s.ctx, "copy@g", rec, time.Minute))
		rec.AttemptsUsed = 2

		got, err := s.store.Get(s.ctx, "copy@g")
		s.Require().NoError(err)
		s.Equal(0, got.AttemptsUsed)
	})

	s.Run("overwrite replaces record", func() {
		rec := s.record()
		s.Require().NoError(s.store.Put(s.ctx, "over@g", rec, time.Minute))
		rec.AttemptsUsed = 1
		s.Require().NoError(s.store.Put(s.ctx, "over@g", rec, time.Minute))

		got, err := s.store.Get(s.ctx, "over@g")
		s.Require().NoError(err)
		s.Equal(1, got.AttemptsUsed)
	})
}

func (s *InMemoryStoreSuite) TestPutRejectsNonPositiveTTL() {
	for _, ttl := range []time.Duration{0, -time.Second} {
		err := s.store.Put(s.ctx, "ttl@g", s.record(), ttl)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	}
	s.Equal(0, s.store.Len())
}

func (s *InMemoryStoreSuite) TestExpiry() {
	s.Require().NoError(s.store.Put(s.ctx, "exp@g", s.record(), time.Minute))

	s.now = s.now.Add(59 * time.Second)
	got, err := s.store.Get(s.ctx, "exp@g")
	s.Require().NoError(err)
	s.NotNil(got)

	s.now = s.now.Add(time.Second)
	got, err = s.store.Get(s.ctx, "exp@g")
	s.Require().NoError(err)
	s.Nil(got)

	taken, err := s.store.Take(s.ctx, "exp@g")
	s.Require().NoError(err)
	s.Nil(taken)
	s.Equal(0, s.store.Len())
}

func (s *InMemoryStoreSuite) TestTake() {
	s.Require().NoError(s.store.Put(s.ctx, "take@g", s.record(), time.Minute))

	first, err := s.store.Take(s.ctx, "take@g")
	s.Require().NoError(err)
	s.Require().NotNil(first)
	s.Equal("c-1", first.ID)

	second, err := s.store.Take(s.ctx, "take@g")
	s.Require().NoError(err)
	s.Nil(second)
}

func (s *InMemoryStoreSuite) TestTakeIsExclusiveUnderContention() {
	s.Require().NoError(s.store.Put(s.ctx, "race@g", s.record(), time.Minute))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.store.Take(s.ctx, "race@g")
			if err == nil && rec != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
}

func (s *InMemoryStoreSuite) TestDelete() {
	s.Require().NoError(s.store.Put(s.ctx, "del@g", s.record(), time.Minute))
	s.Require().NoError(s.store.Delete(s.ctx, "del@g"))
	s.NoError(s.store.Delete(s.ctx, "del@g"))

	got, err := s.store.Get(s.ctx, "del@g")
	s.NoError(err)
	s.Nil(got)
}

func (s *InMemoryStoreSuite) TestNamespaceIsolation() {
	other := NewInMemoryStore(WithMemoryNamespace("other"))
	s.Require().NoError(s.store.Put(s.ctx, "ns@g", s.record(), time.Minute))

	s.Contains(s.store.records, "captcha:ns@g")
	got, err := other.Get(s.ctx, "ns@g")
	s.NoError(err)
	s.Nil(got)
}
