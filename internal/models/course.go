package models

// Discipline はコースに属する科目
type Discipline struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Course は科目をまとめたコース
type Course struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Disciplines []Discipline `json:"disciplines" yaml:"disciplines"`
}
