package gate

import (
	"strings"
	"testing"
)

func BenchmarkValidate(b *testing.B) {
	g := Default()

	codes := []struct {
		name string
		code string
	}{
		{"benign", "result = env['res.partner'].search([('is_company', '=', True)])"},
		{"violation", "import os; os.system('rm -rf /')"},
		{"pattern", `token = "aGVsbG8gd29ybGQgZnJvbSB0aGUgZ2F0ZQ=="`},
		{"complex", `
import json
from collections import defaultdict

totals = defaultdict(float)
for order in env['sale.order'].search([('state', '=', 'sale')]):
    for line in order.order_line:
        totals[line.product_id.id] += line.price_subtotal
result = json.dumps(totals)
`},
		{"near_limit", strings.Repeat("x = [1, 2, 3]\n", 700)},
	}

	for _, tc := range codes {
		b.Run(tc.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				g.Validate(tc.code)
			}
		})
	}
}

func BenchmarkValidateParallel(b *testing.B) {
	g := Default()
	code := "for i in range(10):\n    for j in range(10):\n        total = i * j\n"

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			g.Validate(code)
		}
	})
}
