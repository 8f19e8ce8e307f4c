package crawl

import "testing"

func TestDeadLetterQueueAddAndLen(t *testing.T) {
	q := NewDeadLetterQueue(3)
	q.AddFailedURL("https://example.com/a", "timeout", 0)
	q.AddFailedURL("https://example.com/b", "dns", 1)
	if q.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", q.Len())
	}
	items := q.Items()
	if items[0].URL != "https://example.com/a" || items[0].Reason != "timeout" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
}

func TestDeadLetterQueueCapacityEvictsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)
	q.AddFailedURL("https://example.com/a", "r1", 0)
	q.AddFailedURL("https://example.com/b", "r2", 0)
	q.AddFailedURL("https://example.com/c", "r3", 0)

	items := q.Items()
	if len(items) != 2 {
		t.Fatalf("expected ring bounded to capacity 2, got %d", len(items))
	}
	if items[0].URL != "https://example.com/b" || items[1].URL != "https://example.com/c" {
		t.Fatalf("expected oldest entry evicted, got %+v", items)
	}
}

func TestDeadLetterQueueDefaultCapacity(t *testing.T) {
	q := NewDeadLetterQueue(0)
	for i := 0; i < 1001; i++ {
		q.AddFailedURL("https://example.com/", "r", 0)
	}
	if q.Len() != 1000 {
		t.Fatalf("expected default capacity of 1000, got %d", q.Len())
	}
}

func TestDeadLetterQueueItemsReturnsCopy(t *testing.T) {
	q := NewDeadLetterQueue(10)
	q.AddFailedURL("https://example.com/a", "r1", 0)
	items := q.Items()
	items[0].URL = "mutated"
	if q.Items()[0].URL == "mutated" {
		t.Fatalf("expected Items() to return an isolated copy")
	}
}
