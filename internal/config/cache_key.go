package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey holds the JTI of a student's only valid token.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// AttemptAnswersKey is the hash of question ID -> latest answer JSON.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// ExamDefinitionKey caches the student-facing exam payload.
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// ExamGradingKey caches hidden grading data (correct options, all test cases).
func (r *CacheKeyStruct) ExamGradingKey(examID string) string {
	return fmt.Sprintf("exam:%s:grading", examID)
}

// RateKey counts requests of one subject (student ID or client IP) within a
// fixed window of a named scope.
func (r *CacheKeyStruct) RateKey(scope, subject string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, subject, window)
}

// AttemptStatusChannel is the pub/sub channel for one attempt's state changes.
func (r *CacheKeyStruct) AttemptStatusChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:status", attemptID)
}

// AttemptStatusPattern matches every attempt status channel.
func (r *CacheKeyStruct) AttemptStatusPattern() string {
	return "attempt:*:status"
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
