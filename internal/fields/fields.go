// Package fields 将定位列的 Row 映射为具名的选民字段，隔离原始列布局。
package fields

import (
	"fmt"

	"rollaudit/pkg/contract"
)

// Layout: 各字段所在列（0 起）。JSON/YAML 使用 snake_case。
type Layout struct {
	ID               int `json:"id"`
	LastName         int `json:"last_name"`
	FirstName        int `json:"first_name"`
	MiddleName       int `json:"middle_name"`
	DOB              int `json:"dob"`
	RegistrationDate int `json:"registration_date"`
	Status           int `json:"status"`
	StatusChangeDate int `json:"status_change_date"`
	Party            int `json:"party"`
	HouseNumber      int `json:"house_number"`
	StreetName       int `json:"street_name"`
	City             int `json:"city"`
	State            int `json:"state"`
	Zip              int `json:"zip"`
	LastVoteDate     int `json:"last_vote_date"`
}

// PennsylvaniaLayout 返回宾州 FVE 导出文件的列布局。
func PennsylvaniaLayout() Layout {
	return Layout{
		ID:               0,
		LastName:         2,
		FirstName:        3,
		MiddleName:       4,
		DOB:              7,
		RegistrationDate: 8,
		Status:           9,
		StatusChangeDate: 10,
		Party:            11,
		HouseNumber:      13,
		StreetName:       14,
		City:             17,
		State:            18,
		Zip:              19,
		LastVoteDate:     25,
	}
}

func (l Layout) columns() []struct {
	name string
	idx  int
} {
	return []struct {
		name string
		idx  int
	}{
		{"id", l.ID}, {"last_name", l.LastName}, {"first_name", l.FirstName},
		{"middle_name", l.MiddleName}, {"dob", l.DOB}, {"registration_date", l.RegistrationDate},
		{"status", l.Status}, {"status_change_date", l.StatusChangeDate}, {"party", l.Party},
		{"house_number", l.HouseNumber}, {"street_name", l.StreetName}, {"city", l.City},
		{"state", l.State}, {"zip", l.Zip}, {"last_vote_date", l.LastVoteDate},
	}
}

// Validate 要求所有列号非负且两两不同（部分填写的布局其余列为 0，会在此被拒绝）。
func (l Layout) Validate() error {
	seen := make(map[int]string, 15)
	for _, c := range l.columns() {
		if c.idx < 0 {
			return fmt.Errorf("%w: layout.%s must be >= 0, got %d", contract.ErrConfig, c.name, c.idx)
		}
		if prev, ok := seen[c.idx]; ok {
			return fmt.Errorf("%w: layout.%s and layout.%s share column %d", contract.ErrConfig, prev, c.name, c.idx)
		}
		seen[c.idx] = c.name
	}
	return nil
}

// Width 返回布局引用到的最小行宽（最大列号 + 1）。
func (l Layout) Width() int {
	w := 0
	for _, c := range l.columns() {
		if c.idx+1 > w {
			w = c.idx + 1
		}
	}
	return w
}

// Voter: 一条选民记录的具名字段视图。值均为原始字符串，不做裁剪。
type Voter struct {
	ID               string
	FirstName        string
	MiddleName       string
	LastName         string
	DOB              string
	RegistrationDate string
	Status           string
	StatusChangeDate string
	Party            string
	HouseNumber      string
	StreetName       string
	City             string
	State            string
	Zip              string
	LastVoteDate     string
}

// Extract 按布局取字段；短行缺失的列为空串。
func (l Layout) Extract(r contract.Row) Voter {
	return Voter{
		ID:               r.Field(l.ID),
		FirstName:        r.Field(l.FirstName),
		MiddleName:       r.Field(l.MiddleName),
		LastName:         r.Field(l.LastName),
		DOB:              r.Field(l.DOB),
		RegistrationDate: r.Field(l.RegistrationDate),
		Status:           r.Field(l.Status),
		StatusChangeDate: r.Field(l.StatusChangeDate),
		Party:            r.Field(l.Party),
		HouseNumber:      r.Field(l.HouseNumber),
		StreetName:       r.Field(l.StreetName),
		City:             r.Field(l.City),
		State:            r.Field(l.State),
		Zip:              r.Field(l.Zip),
		LastVoteDate:     r.Field(l.LastVoteDate),
	}
}
