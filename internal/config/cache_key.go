package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestSectionsKey returns the cache key for a test's section list
func (r *CacheKeyStruct) TestSectionsKey(testID string) string {
	return fmt.Sprintf("test:%s:sections", testID)
}

// SectionQuestionsKey returns the cache key for a section's question list
func (r *CacheKeyStruct) SectionQuestionsKey(sectionID string) string {
	return fmt.Sprintf("section:%s:questions", sectionID)
}

// StudentTestAccessKey marks that a student holds a paid purchase for a test
func (r *CacheKeyStruct) StudentTestAccessKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:access", studentID, testID)
}

// LoginAttemptsKey counts login attempts per client address
func (r *CacheKeyStruct) LoginAttemptsKey(clientIP string) string {
	return fmt.Sprintf("ratelimit:login:%s", clientIP)
}

var CacheKey = NewCacheKeyStruct()
