package oracles

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"fidexa/deal"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_history_chain",
			SQL: `WITH h AS (
                      SELECT deal_id, id, old_status, new_status,
                             LAG(new_status) OVER (PARTITION BY deal_id ORDER BY id) AS prev,
                             ROW_NUMBER() OVER (PARTITION BY deal_id ORDER BY id) AS rn
                      FROM deal_status_history)
                  SELECT deal_id, id FROM h
                  WHERE (rn = 1 AND old_status IS NOT NULL)
                     OR (rn > 1 AND old_status IS DISTINCT FROM prev)`,
		},
		{
			Name: "O2_status_matches_last_history",
			SQL: `SELECT d.id, d.status, last.new_status FROM deals d
                  LEFT JOIN LATERAL (
                      SELECT new_status FROM deal_status_history h
                      WHERE h.deal_id = d.id ORDER BY h.id DESC LIMIT 1) last ON true
                  WHERE last.new_status IS DISTINCT FROM d.status`,
		},
		{
			Name: "O3_legal_edges",
			SQL:  legalEdgesSQL(),
		},
		{
			Name: "O4_one_active_dispute",
			SQL: `SELECT deal_id, COUNT(*) FROM disputes
                  WHERE status IN ('open','under_review')
                  GROUP BY deal_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_dispute_matches_deal",
			SQL: `SELECT d.id, d.status FROM deals d
                  WHERE d.status = 'dispute'
                    AND NOT EXISTS (SELECT 1 FROM disputes x WHERE x.deal_id = d.id AND x.status IN ('open','under_review'))
                  UNION ALL
                  SELECT d.id, d.status FROM deals d
                  JOIN disputes x ON x.deal_id = d.id AND x.status IN ('open','under_review')
                  WHERE d.status <> 'dispute'`,
		},
		{
			Name: "O6_settlement_per_terminal_deal",
			SQL: `SELECT d.id, d.status, s.kind FROM deals d
                  LEFT JOIN settlements s ON s.deal_id = d.id
                  WHERE (d.status = 'completed' AND s.kind IS DISTINCT FROM 'release')
                     OR (d.status = 'refunded' AND s.kind IS DISTINCT FROM 'refund')
                     OR (d.status NOT IN ('completed','refunded') AND s.id IS NOT NULL)`,
		},
		{
			Name: "O7_settlement_amounts",
			SQL: `SELECT s.deal_id, s.kind, s.amount, d.amount, d.commission_amount FROM settlements s
                  JOIN deals d ON d.id = s.deal_id
                  WHERE (s.kind = 'release' AND s.amount <> d.amount - d.commission_amount)
                     OR (s.kind = 'refund' AND s.amount <> d.amount)`,
		},
		{
			Name: "O8_funded_deals_have_one_payment",
			SQL: `SELECT d.id, COUNT(t.id) FROM deals d
                  LEFT JOIN transactions t ON t.deal_id = d.id AND t.status IN ('completed','refunded')
                  GROUP BY d.id, d.status
                  HAVING (d.status <> 'pending_payment' AND COUNT(t.id) <> 1)
                      OR (d.status = 'pending_payment' AND COUNT(t.id) <> 0)`,
		},
		{
			Name: "O9_commission_bounds",
			SQL: `SELECT id, amount, commission_amount FROM deals
                  WHERE commission_amount < 0 OR commission_amount > amount`,
		},
		{
			Name: "O10_worm_triggers",
			SQL: `SELECT name AS missing FROM (VALUES ('deal_status_history_worm'), ('deals_immutable')) t(name)
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = t.name)`,
		},
	}
}

// legalEdgesSQL lists history rows whose (old, new) pair is not an edge of the
// transition table.
func legalEdgesSQL() string {
	seen := map[string]bool{}
	var pairs []string
	for _, t := range deal.Transitions() {
		for _, from := range t.From {
			pair := fmt.Sprintf("('%s','%s')", from, t.To)
			if !seen[pair] {
				seen[pair] = true
				pairs = append(pairs, pair)
			}
		}
	}
	return `SELECT id, deal_id, old_status, new_status FROM deal_status_history
            WHERE old_status IS NOT NULL
              AND (old_status::text, new_status::text) NOT IN (VALUES ` + strings.Join(pairs, ", ") + `)`
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
