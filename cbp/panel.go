package cbp

import (
	"context"
	"math"

	"github.com/gophersatwork/pubdata"
)

// PanelRow is one county-industry record of the filled CBP panel.
// CBPEmp and CBPAP keep the published values; Emp and AP have the
// suppressed zeros replaced by the EFSY bound midpoint and the imputed
// state-industry wage bill.
type PanelRow struct {
	FipState  string  `parquet:"fipstate"`
	FipCty    string  `parquet:"fipscty"`
	Industry  string  `parquet:"industry"`
	IndDigits int     `parquet:"ind_digits"`
	Est       float64 `parquet:"est"`
	Emp       float64 `parquet:"emp"`
	QP1       float64 `parquet:"qp1"`
	AP        float64 `parquet:"ap"`
	CBPEmp    float64 `parquet:"cbp_emp"`
	CBPAP     float64 `parquet:"cbp_ap"`
	EFSYLB    float64 `parquet:"efsy_lb"`
	EFSYUB    float64 `parquet:"efsy_ub"`
	Wage      float64 `parquet:"wage"`
}

// CountyPanel returns the county CBP table for one year with suppressed
// employment and payroll filled in. Employment zeros take the midpoint
// of the EFSY bounds; payroll zeros take employment times the
// state-industry wage (first-quarter payroll annualized). Years after
// the EFSY coverage window are returned unfilled.
func (c *Client) CountyPanel(ctx context.Context, year int) ([]PanelRow, error) {
	return c.panel.Get(ctx, pubdata.Year(year), func(ctx context.Context, key pubdata.Year) ([]PanelRow, error) {
		county, err := c.Read(ctx, []Key{{Geo: GeoCounty, Year: year}})
		if err != nil {
			return nil, err
		}

		rows := make([]PanelRow, len(county))
		for i, r := range county {
			rows[i] = PanelRow{
				FipState:  r.FipState,
				FipCty:    r.FipCty,
				Industry:  r.Industry,
				IndDigits: r.IndDigits,
				Est:       r.Est,
				Emp:       r.Emp,
				QP1:       r.QP1,
				AP:        r.AP,
				CBPEmp:    r.Emp,
				CBPAP:     r.AP,
				EFSYLB:    math.NaN(),
				EFSYUB:    math.NaN(),
				Wage:      math.NaN(),
			}
		}

		if year > efsyLastYear {
			return rows, nil
		}

		efsy, err := c.EFSYYear(ctx, year)
		if err != nil {
			return nil, err
		}
		state, err := c.Read(ctx, []Key{{Geo: GeoState, Year: year}})
		if err != nil {
			return nil, err
		}

		fillPanel(rows, efsy, stateWages(state, year))
		return rows, nil
	})
}

type countyIndustry struct {
	fipState, fipCty, industry string
}

type stateIndustry struct {
	fipState, industry string
}

// stateWages derives the average annual wage per state-industry cell
// from first-quarter payroll. From 2010 on the state files break out
// legal forms of organization, so only the all-forms total rows count.
func stateWages(state []Row, year int) map[stateIndustry]float64 {
	wages := make(map[stateIndustry]float64)
	for _, r := range state {
		if year > 2009 && r.LFO != "-" {
			continue
		}
		if r.Emp == 0 || math.IsNaN(r.Emp) || math.IsNaN(r.QP1) {
			continue
		}
		wages[stateIndustry{r.FipState, r.Industry}] = r.QP1 / r.Emp * 4
	}
	return wages
}

// fillPanel joins EFSY bounds and state wages onto the county rows and
// fills the suppressed values in place.
func fillPanel(rows []PanelRow, efsy []EFSYRow, wages map[stateIndustry]float64) {
	bounds := make(map[countyIndustry]EFSYRow, len(efsy))
	for _, e := range efsy {
		bounds[countyIndustry{e.FipState, e.FipCty, e.Industry}] = e
	}

	for i := range rows {
		r := &rows[i]

		if e, ok := bounds[countyIndustry{r.FipState, r.FipCty, r.Industry}]; ok {
			r.EFSYLB = float64(e.LB)
			r.EFSYUB = float64(e.UB)
		}
		// NaN bounds and wages propagate, so a suppressed cell with no
		// match comes out missing rather than zero.
		if r.Emp == 0 {
			r.Emp = (r.EFSYLB + r.EFSYUB) / 2
		}

		if w, ok := wages[stateIndustry{r.FipState, r.Industry}]; ok {
			r.Wage = w
		}
		if r.AP == 0 {
			r.AP = r.Emp * r.Wage
		}
	}
}
