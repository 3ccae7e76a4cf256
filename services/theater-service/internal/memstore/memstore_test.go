package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/theaterops/theaterops/services/theater-service/internal/model"
	"github.com/theaterops/theaterops/services/theater-service/internal/store"
)

const testDate = model.Date("2026-03-14")

// blockedWrite starts a Write whose callback parks until release is closed,
// and signals entered once the locks are held.
func blockedWrite(s *Store, roomID int64, date model.Date) (entered, release, done chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	done = make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Write(context.Background(), roomID, date, func(store.Tx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	return entered, release, done
}

func waitOrFatal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func mustStayBlocked(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("%s completed while it should have been excluded", what)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWrite_AdminExcludedWhileBookingInFlight(t *testing.T) {
	s := New()

	entered, release, booking := blockedWrite(s, 1, testDate)
	waitOrFatal(t, entered, "booking write to take its locks")

	_, _, admin := blockedWrite(s, 1, "")
	mustStayBlocked(t, admin, "admin write")

	close(release)
	waitOrFatal(t, booking, "booking write to finish")
	waitOrFatal(t, admin, "admin write to run after the booking released")
}

func TestWrite_BookingExcludedWhileAdminInFlight(t *testing.T) {
	s := New()

	entered, release, admin := blockedWrite(s, 1, "")
	waitOrFatal(t, entered, "admin write to take the room lock")

	_, _, booking := blockedWrite(s, 1, testDate)
	mustStayBlocked(t, booking, "booking write")

	close(release)
	waitOrFatal(t, admin, "admin write to finish")
	waitOrFatal(t, booking, "booking write to run after the admin released")
}

func TestWrite_DifferentDatesProceedConcurrently(t *testing.T) {
	s := New()

	entered, release, first := blockedWrite(s, 1, testDate)
	waitOrFatal(t, entered, "first booking to take its locks")

	enteredOther, releaseOther, second := blockedWrite(s, 1, model.Date("2026-03-15"))
	waitOrFatal(t, enteredOther, "second booking on another date to enter")

	close(releaseOther)
	waitOrFatal(t, second, "second booking to finish")
	close(release)
	waitOrFatal(t, first, "first booking to finish")
}

func TestWrite_OtherRoomUnaffectedByAdmin(t *testing.T) {
	s := New()

	entered, release, admin := blockedWrite(s, 1, "")
	waitOrFatal(t, entered, "admin write to take the room lock")

	err := s.Write(context.Background(), 2, testDate, func(store.Tx) error { return nil })
	if err != nil {
		t.Fatalf("write to another room: %v", err)
	}

	close(release)
	waitOrFatal(t, admin, "admin write to finish")
}
