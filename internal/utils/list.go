package utils

import "strings"

// UniqueStrings drops empty values and repeats, keeping first-seen order.
func UniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, exists := seen[v]; exists {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}
	return unique
}

func StringToSlice(str string) []string {
	if str == "" {
		return []string{}
	}
	return UniqueStrings(strings.Split(str, ","))
}

// Chunk splits values into consecutive slices of at most size elements.
func Chunk[T any](values []T, size int) [][]T {
	if size <= 0 || len(values) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
