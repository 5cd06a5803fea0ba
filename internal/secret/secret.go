package secret

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"

	"golang.org/x/term"
)

// Character classes omit glyphs that are easy to misread (0/O, 1/l/I) and
// ones that tend to break shell quoting.
const (
	lowerChars  = "abcdefghjkmnpqrstuvwxyz"
	upperChars  = "ABCDEFGHJKMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!@#%^*-_=+"
)

// MinPasswordLength is the floor GeneratePassword enforces.
const MinPasswordLength = 12

// GeneratePassword returns a random password of length n, at least
// MinPasswordLength, containing at least one character from each class.
func GeneratePassword(n int) (string, error) {
	if n < MinPasswordLength {
		n = MinPasswordLength
	}
	all := lowerChars + upperChars + digitChars + symbolChars

	buf := make([]byte, n)
	for i, class := range []string{lowerChars, upperChars, digitChars, symbolChars} {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	for i := 4; i < n; i++ {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}

	// Shuffle so the guaranteed class characters are not predictably placed.
	for i := n - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

func pick(class string) (byte, error) {
	i, err := randIndex(len(class))
	if err != nil {
		return 0, err
	}
	return class[i], nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}

// Prompt reads a value from the terminal without echoing it. It refuses to
// run when stdin is not a TTY, so scripted runs must pass secrets through
// flags, the environment, or the config file instead.
func Prompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal, set %s via flag, env, or config file", label)
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return string(raw), nil
}
