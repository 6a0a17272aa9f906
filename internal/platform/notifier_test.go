package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cloudstash/internal/models"
)

func TestNotifier_CoalescesWakeups(t *testing.T) {
	n := newNotifier()
	ch, unsubscribe := n.subscribe()

	n.notify()
	n.notify()

	<-ch
	select {
	case <-ch:
		t.Fatal("expected a single pending wake-up")
	default:
	}

	unsubscribe()
	n.notify()
	select {
	case <-ch:
		t.Fatal("unsubscribed channel was woken")
	default:
	}
}

func TestSameResults(t *testing.T) {
	a := []models.ItemAttributes{{Path: "Documents/a.txt", PercentUploaded: 10, UpdatedAt: time.Now()}}
	b := []models.ItemAttributes{{Path: "Documents/a.txt", PercentUploaded: 10, UpdatedAt: time.Now().Add(time.Second)}}

	assert.True(t, sameResults(a, b))
	assert.True(t, sameResults(nil, []models.ItemAttributes{}))

	b[0].PercentUploaded = 20
	assert.False(t, sameResults(a, b))
	assert.False(t, sameResults(a, nil))
}
