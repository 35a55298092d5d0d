package utils

import (
	"fmt"
	"github.com/stretchr/testify/assert"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestRandString(t *testing.T) {
	var strLen int
	var randStr string
	var exists bool
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	randStrings := make(map[string]struct{})
	for i := 0; i < 2000; i++ {
		strLen = r.Intn(20) + 10
		randStr = RandString(strLen)
		assert.Len(t, randStr, strLen)
		_, exists = randStrings[randStr]
		assert.False(t, exists, fmt.Sprintf("not unique value %s on iteration %d", randStr, i))
		if exists {
			break
		}
		randStrings[randStr] = struct{}{}
	}
}

func TestRandStringAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		for _, c := range RandString(16) {
			assert.Contains(t, letterBytes, string(c))
		}
	}
}

func TestRandStringConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Len(t, RandString(6), 6)
			}
		}()
	}
	wg.Wait()
}

func TestParseInt(t *testing.T) {
	var num int
	var expectedValue int
	var result int
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	defaultValue, minValue, maxValue := 30, 2, 100
	for i := 0; i < 100; i++ {
		num = r.Intn(120)
		if num < minValue || num > maxValue {
			expectedValue = defaultValue
		} else {
			expectedValue = num
		}
		result = ParseInt(strconv.Itoa(num), defaultValue, minValue, maxValue)
		assert.Equal(t, expectedValue, result)
	}
	assert.Equal(t, defaultValue, ParseInt("abc", defaultValue, minValue, maxValue))
}

func TestInArray(t *testing.T) {
	values := []string{"a", "b", "c", "d"}
	for _, v := range values {
		assert.True(t, InArray(values, v))
	}
	for _, iv := range []string{"e", "f", "g", "h"} {
		assert.False(t, InArray(values, iv))
	}
}

func TestIsLengthValid(t *testing.T) {
	var result bool
	result = IsLengthValid("test", 2, 10)
	assert.True(t, result)

	result = IsLengthValid("", 2, 10)
	assert.False(t, result)

	result = IsLengthValid("1234567891011", 2, 10)
	assert.False(t, result)

	result = IsLengthValid("разДваТри!", 2, 10)
	assert.True(t, result)
}
