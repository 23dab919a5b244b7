// Package summary derives the dashboard view of a user's expenses.
//
// Every function here is pure: the dashboard is recomputed in full from an
// expense snapshot and the current filter parameters, and nothing is cached
// between calls.
package summary

import (
	"sort"

	"expense-dashboard/internal/models"

	"github.com/shopspring/decimal"
)

// Mode selects how expenses are bucketed in time.
type Mode string

const (
	Daily   Mode = "daily"
	Monthly Mode = "monthly"
)

// AllCategories is the category filter value that keeps every expense.
const AllCategories = "all"

// Params are the user's current dashboard selections.
type Params struct {
	Category    string `json:"category" validate:"max=100"`
	ChartMode   Mode   `json:"chart_mode"`
	FilterMode  Mode   `json:"filter_mode"`
	FilterDate  string `json:"filter_date" validate:"omitempty,datetime=2006-01-02"`
	FilterMonth string `json:"filter_month" validate:"omitempty,datetime=2006-01"`
}

// Chart is one bar chart: labels[i] is drawn with height values[i].
type Chart struct {
	Title  string            `json:"title"`
	XLabel string            `json:"x_label"`
	Labels []string          `json:"labels"`
	Values []decimal.Decimal `json:"values"`
}

// Cards are the headline figures of the dashboard.
type Cards struct {
	Total          decimal.Decimal `json:"total"`
	Count          int             `json:"count"`
	DailyAverage   decimal.Decimal `json:"daily_average"`
	MonthlyAverage decimal.Decimal `json:"monthly_average"`
	YearlyAverage  decimal.Decimal `json:"yearly_average"`
}

// Dashboard is everything the client renders for one set of selections.
type Dashboard struct {
	Params        Params           `json:"params"`
	Categories    []string         `json:"categories"`
	Expenses      []models.Expense `json:"expenses"`
	Chart         Chart            `json:"chart"`
	FilteredChart Chart            `json:"filtered_chart"`
	Cards         Cards            `json:"cards"`
}

// Build derives the dashboard from all of a user's expenses.
// The category filter applies to the table, the time chart and the cards;
// the filtered chart always starts from the unfiltered set.
func Build(all []models.Expense, p Params) Dashboard {
	p = p.normalized()
	filtered := FilterByCategory(all, p.Category)

	return Dashboard{
		Params:        p,
		Categories:    Categories(all),
		Expenses:      filtered,
		Chart:         TimeChart(filtered, p.ChartMode),
		FilteredChart: CategoryChart(all, p.FilterMode, p.FilterDate, p.FilterMonth),
		Cards:         Summarize(filtered),
	}
}

func (p Params) normalized() Params {
	if p.Category == "" {
		p.Category = AllCategories
	}
	if p.ChartMode != Daily {
		p.ChartMode = Monthly
	}
	if p.FilterMode != Monthly {
		p.FilterMode = Daily
	}
	return p
}

// FilterByCategory keeps the expenses of one category. "all" and "" keep everything.
func FilterByCategory(expenses []models.Expense, category string) []models.Expense {
	out := make([]models.Expense, 0, len(expenses))
	for _, e := range expenses {
		if category == "" || category == AllCategories || e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// Categories lists the distinct categories in order of first appearance.
func Categories(expenses []models.Expense) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, e := range expenses {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		seen[e.Category] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}

// TimeChart sums expenses per date (Daily) or per month (any other mode).
// Zero-padded ISO keys sort lexicographically into chronological order.
func TimeChart(expenses []models.Expense, mode Mode) Chart {
	if mode == Daily {
		c := groupSum(expenses, func(e models.Expense) string { return e.Date })
		c.Title, c.XLabel = "Daily Expense Summary", "Date"
		return c
	}
	c := groupSum(expenses, models.Expense.Month)
	c.Title, c.XLabel = "Monthly Expense Summary", "Month"
	return c
}

// CategoryChart sums the expenses of one date (Daily) or one month (Monthly)
// per category. Without a selected date or month the chart is empty.
func CategoryChart(all []models.Expense, mode Mode, date, month string) Chart {
	var selected []models.Expense
	title := "Expenses on " + date

	switch {
	case mode == Monthly && month != "":
		title = "Expenses in " + month
		for _, e := range all {
			if e.Month() == month {
				selected = append(selected, e)
			}
		}
	case mode == Monthly:
		title = "Expenses in " + month
	case date != "":
		for _, e := range all {
			if e.Date == date {
				selected = append(selected, e)
			}
		}
	}

	c := groupSum(selected, func(e models.Expense) string { return e.Category })
	c.Title, c.XLabel = title, "Category"
	return c
}

// Summarize computes the total, the count and the per-day, per-month and
// per-year averages. An average over zero groups is zero.
func Summarize(expenses []models.Expense) Cards {
	total := decimal.Zero
	days := make(map[string]struct{})
	months := make(map[string]struct{})
	years := make(map[string]struct{})

	for _, e := range expenses {
		total = total.Add(e.Amount)
		days[e.Date] = struct{}{}
		months[e.Month()] = struct{}{}
		years[e.Year()] = struct{}{}
	}

	return Cards{
		Total:          total,
		Count:          len(expenses),
		DailyAverage:   average(total, len(days)),
		MonthlyAverage: average(total, len(months)),
		YearlyAverage:  average(total, len(years)),
	}
}

func average(total decimal.Decimal, groups int) decimal.Decimal {
	if groups == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(groups))).Round(2)
}

func groupSum(expenses []models.Expense, key func(models.Expense) string) Chart {
	sums := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		k := key(e)
		sums[k] = sums[k].Add(e.Amount)
	}

	labels := make([]string, 0, len(sums))
	for k := range sums {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	values := make([]decimal.Decimal, 0, len(labels))
	for _, k := range labels {
		values = append(values, sums[k])
	}
	return Chart{Labels: labels, Values: values}
}
