package utils

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nanoIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func GenerateNanoID(length int) string {
	id, err := gonanoid.Generate(nanoIDAlphabet, length)
	if err != nil {
		// only fails on invalid alphabet or length
		panic(err)
	}
	return id
}

func GenerateNanoIDWithPrefix(prefix string, length int) string {
	return fmt.Sprintf("%s_%s", prefix, GenerateNanoID(length))
}

func NewRunID() string {
	return uuid.NewString()
}
