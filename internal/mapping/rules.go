// Package mapping resolves raw extracted labels to canonical account keys
// using an ordered, versioned rule table.
package mapping

// ExactRule matches when the normalized raw label equals one of its
// normalized synonyms.
type ExactRule struct {
	Synonyms     []string `yaml:"synonyms" json:"synonyms"`
	CanonicalKey string   `yaml:"canonical_key" json:"canonical_key"`
	// Expense lines are stored as negative magnitudes.
	Expense bool `yaml:"expense,omitempty" json:"expense,omitempty"`
}

// PatternRule matches when its regular expression matches the normalized
// raw label.
type PatternRule struct {
	Pattern      string `yaml:"pattern" json:"pattern"`
	CanonicalKey string `yaml:"canonical_key" json:"canonical_key"`
	Expense      bool   `yaml:"expense,omitempty" json:"expense,omitempty"`
}

// RuleTable is an ordered, versioned list of mapping rules. Order is part of
// the contract: the first matching rule wins. A published version is never
// edited; changes produce a new version.
type RuleTable struct {
	Version  string        `yaml:"version" json:"version"`
	Exact    []ExactRule   `yaml:"exact" json:"exact"`
	Patterns []PatternRule `yaml:"patterns" json:"patterns"`
}

// Clone returns a deep copy of the table.
func (t RuleTable) Clone() RuleTable {
	out := RuleTable{
		Version:  t.Version,
		Exact:    make([]ExactRule, len(t.Exact)),
		Patterns: make([]PatternRule, len(t.Patterns)),
	}
	for i, r := range t.Exact {
		r.Synonyms = append([]string(nil), r.Synonyms...)
		out.Exact[i] = r
	}
	copy(out.Patterns, t.Patterns)
	return out
}

// CanonicalKeys returns the distinct canonical keys in rule order.
func (t RuleTable) CanonicalKeys() []string {
	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, r := range t.Exact {
		add(r.CanonicalKey)
	}
	for _, r := range t.Patterns {
		add(r.CanonicalKey)
	}
	return keys
}

// DefaultVersion is the version of DefaultRuleTable.
const DefaultVersion = "rules/v1"

// DefaultRuleTable returns the built-in rule table.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		Version: DefaultVersion,
		Exact: []ExactRule{
			// Income statement.
			{Synonyms: []string{"revenue", "turnover", "sales", "sale of merchandise", "sales of merchandise"}, CanonicalKey: "revenue"},
			{Synonyms: []string{"cost of sales", "cost of goods sold", "cost of sales and services"}, CanonicalKey: "cost_of_sales", Expense: true},
			{Synonyms: []string{"gross profit"}, CanonicalKey: "gross_profit"},
			{Synonyms: []string{"operating expenses", "administrative expenses", "distribution costs", "other operating expenses"}, CanonicalKey: "operating_expenses", Expense: true},
			{Synonyms: []string{"operating profit", "profit from operations", "profit before finance costs"}, CanonicalKey: "operating_profit"},
			{Synonyms: []string{"ebitda", "earnings before interest, tax, depreciation and amortisation", "earnings before interest, taxes, depreciation and amortization"}, CanonicalKey: "ebitda"},
			{Synonyms: []string{"depreciation", "amortisation", "depreciation and amortisation", "depreciation and amortization"}, CanonicalKey: "depreciation_amortisation", Expense: true},
			{Synonyms: []string{"finance income", "interest income", "interest revenue"}, CanonicalKey: "finance_income"},
			{Synonyms: []string{"finance costs", "finance expenses", "interest expense", "net finance cost"}, CanonicalKey: "finance_costs", Expense: true},
			{Synonyms: []string{"profit before tax", "profit before income tax"}, CanonicalKey: "profit_before_tax"},
			{Synonyms: []string{"income tax expense", "tax expense", "taxation"}, CanonicalKey: "income_tax_expense", Expense: true},
			{Synonyms: []string{"profit for the year", "profit after tax", "profit for year", "net profit"}, CanonicalKey: "profit_after_tax"},

			// Statement of financial position.
			{Synonyms: []string{"cash and cash equivalents", "cash and bank balances", "cash at bank and on hand", "cash"}, CanonicalKey: "cash"},
			{Synonyms: []string{"trade receivables", "trade and other receivables", "amounts receivable"}, CanonicalKey: "trade_receivables"},
			{Synonyms: []string{"other receivables", "other current assets"}, CanonicalKey: "other_receivables"},
			{Synonyms: []string{"inventories", "inventory", "stock"}, CanonicalKey: "inventory"},
			{Synonyms: []string{"total current assets"}, CanonicalKey: "total_current_assets"},
			{Synonyms: []string{"property, plant and equipment", "property plant and equipment", "ppe"}, CanonicalKey: "property_plant_equipment"},
			{Synonyms: []string{"right-of-use assets", "right of use assets", "lease assets"}, CanonicalKey: "right_of_use_assets"},
			{Synonyms: []string{"intangible assets", "goodwill and intangible assets"}, CanonicalKey: "intangible_assets"},
			{Synonyms: []string{"total assets", "total equity and liabilities"}, CanonicalKey: "total_assets"},
			{Synonyms: []string{"trade payables", "trade and other payables"}, CanonicalKey: "trade_payables"},
			{Synonyms: []string{"short-term borrowings", "short term borrowings", "bank overdraft", "current portion of long-term borrowings"}, CanonicalKey: "short_term_borrowings"},
			{Synonyms: []string{"long-term borrowings", "long term borrowings", "non-current borrowings"}, CanonicalKey: "long_term_borrowings"},
			{Synonyms: []string{"total borrowings", "total debt", "gross debt", "interest-bearing borrowings"}, CanonicalKey: "total_debt"},
			{Synonyms: []string{"lease liabilities", "current lease liabilities", "non-current lease liabilities"}, CanonicalKey: "lease_liabilities"},
			{Synonyms: []string{"total current liabilities"}, CanonicalKey: "total_current_liabilities"},
			{Synonyms: []string{"total liabilities"}, CanonicalKey: "total_liabilities"},
			{Synonyms: []string{"total equity", "equity", "total equity attributable to owners", "equity attributable to owners of the parent"}, CanonicalKey: "total_equity"},

			// Cash flow.
			{Synonyms: []string{"cash generated from operations", "cash generated from operating activities"}, CanonicalKey: "cash_generated_operations"},
			{Synonyms: []string{"net cash from operating activities", "net cash flows from operating activities", "cash flows from operating activities"}, CanonicalKey: "net_cfo"},
			{Synonyms: []string{"purchase of property, plant and equipment", "capital expenditure", "additions to property, plant and equipment"}, CanonicalKey: "capex", Expense: true},
			{Synonyms: []string{"net cash used in investing activities", "net cash flows from investing activities"}, CanonicalKey: "net_cfi"},
			{Synonyms: []string{"net cash used in financing activities", "net cash flows from financing activities"}, CanonicalKey: "net_cff"},
			{Synonyms: []string{"interest paid"}, CanonicalKey: "interest_paid", Expense: true},
			{Synonyms: []string{"dividends paid", "dividends distributed"}, CanonicalKey: "dividends_paid", Expense: true},
		},
		Patterns: []PatternRule{
			{Pattern: `depreciat`, CanonicalKey: "depreciation_amortisation", Expense: true},
			{Pattern: `amorti[sz]ation`, CanonicalKey: "depreciation_amortisation", Expense: true},
			{Pattern: `interest paid`, CanonicalKey: "interest_paid", Expense: true},
			{Pattern: `finance cost|interest expense`, CanonicalKey: "finance_costs", Expense: true},
			{Pattern: `interest (income|revenue|received)`, CanonicalKey: "finance_income"},
			{Pattern: `cost of sales`, CanonicalKey: "cost_of_sales", Expense: true},
			{Pattern: `gross profit`, CanonicalKey: "gross_profit"},
			{Pattern: `operating profit`, CanonicalKey: "operating_profit"},
			{Pattern: `\bebitda\b`, CanonicalKey: "ebitda"},
			{Pattern: `profit before (tax|income tax)`, CanonicalKey: "profit_before_tax"},
			{Pattern: `profit (for|attributable to) (the year|the period|owners)`, CanonicalKey: "profit_after_tax"},
			{Pattern: `total current assets`, CanonicalKey: "total_current_assets"},
			{Pattern: `total current liabilities`, CanonicalKey: "total_current_liabilities"},
			{Pattern: `total assets`, CanonicalKey: "total_assets"},
			{Pattern: `total equity`, CanonicalKey: "total_equity"},
			{Pattern: `total liabilities`, CanonicalKey: "total_liabilities"},
			{Pattern: `total (borrowings|debt)`, CanonicalKey: "total_debt"},
			{Pattern: `cash and cash`, CanonicalKey: "cash"},
			{Pattern: `trade (and other )?receivables`, CanonicalKey: "trade_receivables"},
			{Pattern: `inventor`, CanonicalKey: "inventory"},
			{Pattern: `property.*plant`, CanonicalKey: "property_plant_equipment"},
			{Pattern: `right.of.use`, CanonicalKey: "right_of_use_assets"},
			{Pattern: `intangible`, CanonicalKey: "intangible_assets"},
			{Pattern: `trade (and other )?payables`, CanonicalKey: "trade_payables"},
			{Pattern: `short.term borrow|bank overdraft`, CanonicalKey: "short_term_borrowings"},
			{Pattern: `long.term borrow`, CanonicalKey: "long_term_borrowings"},
			{Pattern: `lease liabilit.*`, CanonicalKey: "lease_liabilities"},
			{Pattern: `cash generated|cash from operat`, CanonicalKey: "cash_generated_operations"},
			{Pattern: `capital expend|purchase of ppe`, CanonicalKey: "capex", Expense: true},
			{Pattern: `dividends paid`, CanonicalKey: "dividends_paid", Expense: true},
			{Pattern: `revenue|turnover|sale of merchandise`, CanonicalKey: "revenue"},
		},
	}
}
