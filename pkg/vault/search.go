package vault

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/nimbusvault/internal/dbx"
)

// gramSize is the rune length of a title index token.
const gramSize = 3

// foldTitle returns the case-folded NFC form used for matching.
func foldTitle(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// trigrams returns the distinct rune trigrams of s in first-seen order.
func trigrams(s string) []string {
	r := []rune(s)
	if len(r) < gramSize {
		return nil
	}
	seen := make(map[string]struct{}, len(r))
	out := make([]string, 0, len(r)-gramSize+1)
	for i := 0; i+gramSize <= len(r); i++ {
		g := string(r[i : i+gramSize])
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

func (v *Vault) gramTokens(grams []string) ([][]byte, error) {
	tokens := make([][]byte, 0, len(grams))
	for _, g := range grams {
		t, err := v.keys.BlindToken([]byte("title:" + g))
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// writeTitleTokens replaces the blind index rows of an item.
func (v *Vault) writeTitleTokens(ctx context.Context, tx dbx.DBTX, itemID, title string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_title_tokens WHERE item_id = ?`, itemID); err != nil {
		return err
	}
	tokens, err := v.gramTokens(trigrams(foldTitle(title)))
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO item_title_tokens (item_id, token) VALUES (?, ?)`, itemID, t); err != nil {
			return err
		}
	}
	return nil
}

// SearchByTitle returns items whose title contains query, ignoring case,
// newest first. Queries of three or more runes are narrowed through the
// blind title index and only the candidates are decrypted. Shorter queries
// decrypt every title.
func (v *Vault) SearchByTitle(ctx context.Context, query string) ([]ItemSummary, error) {
	needle := foldTitle(strings.TrimSpace(query))
	var out []ItemSummary
	err := v.read(ctx, "search", func(ctx context.Context) error {
		var (
			candidates []ItemSummary
			err        error
		)
		grams := trigrams(needle)
		if len(grams) == 0 {
			candidates, err = v.querySummaries(ctx, v.db,
				`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id DESC`)
		} else {
			candidates, err = v.indexCandidates(ctx, grams)
		}
		if err != nil {
			return err
		}
		out = make([]ItemSummary, 0, len(candidates))
		for _, c := range candidates {
			if strings.Contains(foldTitle(c.Title), needle) {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

func (v *Vault) indexCandidates(ctx context.Context, grams []string) ([]ItemSummary, error) {
	tokens, err := v.gramTokens(grams)
	if err != nil {
		return nil, err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	args := make([]any, 0, len(tokens)+1)
	for _, t := range tokens {
		args = append(args, t)
	}
	args = append(args, len(tokens))
	return v.querySummaries(ctx, v.db, `
		SELECT `+itemColumns+` FROM items
		WHERE id IN (
			SELECT item_id FROM item_title_tokens
			WHERE token IN (`+placeholders+`)
			GROUP BY item_id
			HAVING COUNT(DISTINCT token) = ?
		)
		ORDER BY created_at DESC, id DESC`, args...)
}
