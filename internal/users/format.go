package users

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/dmitrijs2005/credstore/internal/cryptox"
)

const forbiddenNameChars = "#/\\&=:"

// sanitizeUsername drops non-printable runes and rejects the characters the
// record format reserves.
func sanitizeUsername(name string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, name)

	if clean == "" {
		return "", common.New(common.KindValidation, "Username is required")
	}
	if strings.ContainsAny(clean, forbiddenNameChars) {
		return "", common.Newf(common.KindValidation, "Invalid username %q: must not contain any of %s", clean, forbiddenNameChars)
	}
	return clean, nil
}

func formatGroups(groups []int) string {
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = strconv.Itoa(g)
	}
	return strings.Join(parts, ",")
}

// passwdLine renders username:uid:gid:g1,g2:home:shell.
func passwdLine(u *User) string {
	return strings.Join([]string{
		u.Username,
		strconv.Itoa(u.UID),
		strconv.Itoa(u.GID),
		formatGroups(u.Groups),
		u.Home,
		u.Shell,
	}, ":")
}

// shadowLine renders username:uid:gid:hash:base64(JSON(public JWK)):blob.
func shadowLine(u *User) (string, error) {
	if u.Keypair == nil {
		return "", fmt.Errorf("user %s has no keypair", u.Username)
	}
	pub, err := json.Marshal(u.Keypair.PublicKey)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		u.Username,
		strconv.Itoa(u.UID),
		strconv.Itoa(u.GID),
		u.Password,
		base64.StdEncoding.EncodeToString(pub),
		u.Keypair.PrivateKey,
	}, ":"), nil
}

type passwdRecord struct {
	Username string
	UID      int
	GID      int
	Groups   []int
	Home     string
	Shell    string
}

// parsePasswdLine parses one passwd record. Blank and comment lines yield
// ok=false with no error.
func parsePasswdLine(line string) (rec passwdRecord, ok bool, err error) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
		return rec, false, nil
	}

	f := strings.Split(line, ":")
	if len(f) < 6 || f[0] == "" || f[1] == "" {
		return rec, false, fmt.Errorf("expected 6 fields, got %d", len(f))
	}

	rec.Username = f[0]
	if rec.UID, err = strconv.Atoi(f[1]); err != nil {
		return rec, false, fmt.Errorf("uid: %w", err)
	}
	rec.GID = rec.UID
	if f[2] != "" {
		if rec.GID, err = strconv.Atoi(f[2]); err != nil {
			return rec, false, fmt.Errorf("gid: %w", err)
		}
	}
	rec.Groups = []int{}
	for _, g := range strings.Split(f[3], ",") {
		if g = strings.TrimSpace(g); g == "" {
			continue
		}
		n, err := strconv.Atoi(g)
		if err != nil {
			return rec, false, fmt.Errorf("group %q: %w", g, err)
		}
		rec.Groups = append(rec.Groups, n)
	}
	rec.Home = f[4]
	rec.Shell = strings.Join(f[5:], ":")
	return rec, true, nil
}

type shadowRecord struct {
	Username     string
	PasswordHash string
	PublicKey    cryptox.JWK
	PrivateKey   string
}

// findShadow returns the first shadow line starting with "username:".
func findShadow(lines []string, username string) (string, bool) {
	prefix := username + ":"
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return strings.TrimRight(l, "\r"), true
		}
	}
	return "", false
}

func parseShadowLine(line string) (shadowRecord, error) {
	var rec shadowRecord
	f := strings.Split(line, ":")
	if len(f) < 6 {
		return rec, fmt.Errorf("expected 6 fields, got %d", len(f))
	}
	rec.Username = f[0]
	rec.PasswordHash = f[3]

	raw, err := base64.StdEncoding.DecodeString(f[4])
	if err != nil {
		return rec, fmt.Errorf("public key: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.PublicKey); err != nil {
		return rec, fmt.Errorf("public key: %w", err)
	}
	rec.PrivateKey = strings.Join(f[5:], ":")
	return rec, nil
}

func splitLines(data []byte) []string {
	return strings.Split(string(data), "\n")
}
