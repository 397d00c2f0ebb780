// Package seed はYAMLのコースカタログを読み込む
package seed

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tasukuchiba/ifocus/internal/models"
	"gopkg.in/yaml.v3"
)

// Catalog はシードファイルの形式
type Catalog struct {
	Courses []models.Course `yaml:"courses"`
}

// Decode はrからカタログを読み込み、IDと名前が揃っているか確認する
func Decode(r io.Reader) ([]models.Course, error) {
	var catalog Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&catalog); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Courses))
	for i, c := range catalog.Courses {
		c.ID, c.Name = strings.TrimSpace(c.ID), strings.TrimSpace(c.Name)
		if c.ID == "" || c.Name == "" {
			return nil, fmt.Errorf("course #%d: id and name are required", i+1)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("course %q is listed twice", c.ID)
		}
		seen[c.ID] = true

		disciplines := make(map[string]bool, len(c.Disciplines))
		for j, d := range c.Disciplines {
			d.ID, d.Name = strings.TrimSpace(d.ID), strings.TrimSpace(d.Name)
			if d.ID == "" || d.Name == "" {
				return nil, fmt.Errorf("course %q discipline #%d: id and name are required", c.ID, j+1)
			}
			if disciplines[d.ID] {
				return nil, fmt.Errorf("course %q: discipline %q is listed twice", c.ID, d.ID)
			}
			disciplines[d.ID] = true
			c.Disciplines[j] = d
		}
		if c.Disciplines == nil {
			c.Disciplines = []models.Discipline{}
		}
		catalog.Courses[i] = c
	}
	return catalog.Courses, nil
}

// Load はpathのYAMLファイルを読み込む
func Load(path string) ([]models.Course, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
