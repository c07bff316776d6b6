// Package shared holds small helpers used by more than one package under
// internal/ that don't belong to any one of them.
package shared

import "math/rand"

const randCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandString returns a random alphanumeric string of length n, used to mint a
// link name when the caller doesn't supply one.
func RandString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = randCharset[rand.Intn(len(randCharset))]
	}
	return string(b)
}
