// Package report renders runs, recommendations and automated actions as an
// XLSX workbook for operators.
package report
