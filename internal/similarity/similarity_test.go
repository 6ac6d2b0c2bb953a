package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyword(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "SELECT * FROM users", "select * from users", 1.0},
		{"containment", "select * from users", "select * from users where id = {id}", ContainmentScore},
		{"both empty", "", "", 0.0},
		{"one empty", "", "select 1", 0.0},
		{"disjoint", "orders total", "users email", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Keyword(tt.a, tt.b), 1e-9)
		})
	}
}

func TestKeyword_Jaccard(t *testing.T) {
	// keywords: {missing, index, orders} vs {missing, index, users} -> 2/4
	got := Keyword("missing index on orders", "missing index for users")
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestKeyword_Properties(t *testing.T) {
	samples := []string{
		"select * from users where id = {id}",
		"SELECT name FROM orders JOIN users ON orders.uid = users.id",
		"全表扫描 导致 查询 缓慢",
		"query scans the full table",
		"x",
	}

	for _, a := range samples {
		assert.InDelta(t, 1.0, Keyword(a, a), 1e-9, "self similarity of %q", a)
		for _, b := range samples {
			ab := Keyword(a, b)
			assert.InDelta(t, ab, Keyword(b, a), 1e-9)
			assert.GreaterOrEqual(t, ab, 0.0)
			assert.LessOrEqual(t, ab, 1.0)
		}
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("The query is using SELECT * on the users table, the users table is big")
	assert.Equal(t, []string{"query", "select", "users", "table", "big"}, got)

	long := "a1 b2 c3 d4 e5 f6 g7 h8 i9 j10 k11 l12"
	assert.Len(t, Keywords(long), MaxKeywords)
}

func TestLevenshtein(t *testing.T) {
	assert.InDelta(t, 1.0, Levenshtein("Avoid SELECT *", "avoid select *"), 1e-9)
	assert.InDelta(t, 0.0, Levenshtein("", ""), 1e-9)
	assert.InDelta(t, 0.0, Levenshtein("abc", ""), 1e-9)
	// kitten -> sitting: distance 3 over 7 runes
	assert.InDelta(t, 1.0-3.0/7.0, Levenshtein("kitten", "sitting"), 1e-9)
	// runes, not bytes
	assert.InDelta(t, 0.75, Levenshtein("避免全表", "避免全扫"), 1e-9)
}

func TestLevenshtein_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"missing index", "missing indexes"},
		{"避免使用 SELECT *", "避免 SELECT"},
		{"a", "completely different"},
	}
	for _, p := range pairs {
		ab := Levenshtein(p[0], p[1])
		assert.InDelta(t, ab, Levenshtein(p[1], p[0]), 1e-9)
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.LessOrEqual(t, ab, 1.0)
	}
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, EditDistance(nil, nil))
	assert.Equal(t, 3, EditDistance([]rune("abc"), nil))
	assert.Equal(t, 3, EditDistance([]rune("kitten"), []rune("sitting")))
}
