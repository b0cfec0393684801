package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// PinLookupKey returns the cache key resolving an active PIN code to a lesson ID.
func (r *CacheKeyStruct) PinLookupKey(pin string) string {
	return fmt.Sprintf("pin:%s", pin)
}

// LessonPinKey returns the cache key for a lesson's current PIN code.
func (r *CacheKeyStruct) LessonPinKey(lessonID string) string {
	return fmt.Sprintf("lesson:%s:pin", lessonID)
}

// LessonMonitorChannel returns the Redis PubSub channel for a lesson's live check-in feed.
func (r *CacheKeyStruct) LessonMonitorChannel(lessonID string) string {
	return fmt.Sprintf("lesson:%s:monitor", lessonID)
}

var CacheKey = NewCacheKeyStruct()
