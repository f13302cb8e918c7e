// Package bea provides cached accessors for Bureau of Economic Analysis
// industry accounts: supply-use and total-requirements matrices from the
// AllTablesSUP archives, the BEA-NAICS concordance, and NIPA price
// indexes.
package bea

import (
	"encoding/json"
	"math"
)

// Matrix is one input-output table: a dense value grid with code and
// label axes for rows and columns. Cells published as "..." are NaN.
type Matrix struct {
	// RowAxis and ColAxis name what the axes index, "commodity" or
	// "industry".
	RowAxis string `json:"rowAxis"`
	ColAxis string `json:"colAxis"`

	RowCodes []string `json:"rowCodes"`
	RowNames []string `json:"rowNames"`
	ColCodes []string `json:"colCodes"`
	ColNames []string `json:"colNames"`

	Values [][]float64 `json:"values"`
}

// At returns the value at (row, col).
func (m *Matrix) At(row, col int) float64 {
	return m.Values[row][col]
}

// Lookup returns the value for a row and column code pair.
func (m *Matrix) Lookup(rowCode, colCode string) (float64, bool) {
	ri, ci := -1, -1
	for i, c := range m.RowCodes {
		if c == rowCode {
			ri = i
			break
		}
	}
	for i, c := range m.ColCodes {
		if c == colCode {
			ci = i
			break
		}
	}
	if ri < 0 || ci < 0 {
		return 0, false
	}
	return m.Values[ri][ci], true
}

// jsonMatrix mirrors Matrix with nullable cells, since JSON has no NaN.
type jsonMatrix struct {
	RowAxis  string       `json:"rowAxis"`
	ColAxis  string       `json:"colAxis"`
	RowCodes []string     `json:"rowCodes"`
	RowNames []string     `json:"rowNames"`
	ColCodes []string     `json:"colCodes"`
	ColNames []string     `json:"colNames"`
	Values   [][]*float64 `json:"values"`
}

// MarshalJSON encodes NaN cells as null.
func (m Matrix) MarshalJSON() ([]byte, error) {
	jm := jsonMatrix{
		RowAxis: m.RowAxis, ColAxis: m.ColAxis,
		RowCodes: m.RowCodes, RowNames: m.RowNames,
		ColCodes: m.ColCodes, ColNames: m.ColNames,
		Values: make([][]*float64, len(m.Values)),
	}
	for i, row := range m.Values {
		jm.Values[i] = make([]*float64, len(row))
		for j := range row {
			if !math.IsNaN(row[j]) {
				v := row[j]
				jm.Values[i][j] = &v
			}
		}
	}
	return json.Marshal(jm)
}

// UnmarshalJSON decodes null cells as NaN.
func (m *Matrix) UnmarshalJSON(data []byte) error {
	var jm jsonMatrix
	if err := json.Unmarshal(data, &jm); err != nil {
		return err
	}
	m.RowAxis, m.ColAxis = jm.RowAxis, jm.ColAxis
	m.RowCodes, m.RowNames = jm.RowCodes, jm.RowNames
	m.ColCodes, m.ColNames = jm.ColCodes, jm.ColNames
	m.Values = make([][]float64, len(jm.Values))
	for i, row := range jm.Values {
		m.Values[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				m.Values[i][j] = math.NaN()
			} else {
				m.Values[i][j] = *v
			}
		}
	}
	return nil
}
