package service

import (
	"bytes"
	"testing"
	"time"
)

// TestCache_AddGet проверяет базовый цикл кэширования payload.
func TestCache_AddGet(t *testing.T) {
	c := NewCacheService(4, time.Minute, testLogger())

	payload := []byte("%PDF-1.7 данные")
	c.Add("doc-1", payload)

	got, ok := c.Get("doc-1")
	if !ok {
		t.Fatal("ожидалось попадание в кэш")
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload из кэша не совпадает")
	}

	if _, ok := c.Get("doc-2"); ok {
		t.Error("ожидался промах для неизвестного id")
	}
}

// TestCache_Remove проверяет удаление записи из кэша.
func TestCache_Remove(t *testing.T) {
	c := NewCacheService(4, time.Minute, testLogger())

	c.Add("doc-1", []byte("данные"))
	c.Remove("doc-1")

	if _, ok := c.Get("doc-1"); ok {
		t.Error("запись должна быть удалена из кэша")
	}
}

// TestCache_Eviction проверяет вытеснение при превышении размера.
func TestCache_Eviction(t *testing.T) {
	c := NewCacheService(2, time.Minute, testLogger())

	c.Add("doc-1", []byte("a"))
	c.Add("doc-2", []byte("b"))
	c.Add("doc-3", []byte("c"))

	if c.Len() != 2 {
		t.Errorf("размер кэша: ожидалось 2, получено %d", c.Len())
	}
	if _, ok := c.Get("doc-1"); ok {
		t.Error("старейшая запись должна быть вытеснена")
	}
}

// TestCache_TTL проверяет истечение записей по TTL.
func TestCache_TTL(t *testing.T) {
	c := NewCacheService(4, 20*time.Millisecond, testLogger())

	c.Add("doc-1", []byte("данные"))
	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("doc-1"); ok {
		t.Error("запись должна истечь по TTL")
	}
}
