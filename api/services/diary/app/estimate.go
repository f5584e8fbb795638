package app

import (
	"sort"
	"strings"
)

// Nutrients are values per 100 g.
type Nutrients struct {
	Calories float64
	Protein  float64
	Carbs    float64
	Fat      float64
}

// genericFood is used when no table entry matches the food name.
var genericFood = Nutrients{Calories: 150, Protein: 6, Carbs: 20, Fat: 5}

var foodTable = map[string]Nutrients{
	"apple":          {52, 0.3, 14, 0.2},
	"avocado":        {160, 2, 9, 15},
	"bagel":          {257, 10, 50, 1.6},
	"banana":         {89, 1.1, 23, 0.3},
	"beef":           {250, 26, 0, 15},
	"bread":          {265, 9, 49, 3.2},
	"broccoli":       {34, 2.8, 7, 0.4},
	"burger":         {295, 17, 24, 14},
	"cheese":         {402, 25, 1.3, 33},
	"chicken":        {239, 27, 0, 14},
	"chicken breast": {165, 31, 0, 3.6},
	"egg":            {155, 13, 1.1, 11},
	"fries":          {312, 3.4, 41, 15},
	"milk":           {42, 3.4, 5, 1},
	"oats":           {389, 17, 66, 7},
	"orange":         {47, 0.9, 12, 0.1},
	"pasta":          {131, 5, 25, 1.1},
	"pizza":          {266, 11, 33, 10},
	"potato":         {77, 2, 17, 0.1},
	"rice":           {130, 2.7, 28, 0.3},
	"salad":          {15, 1.4, 3, 0.2},
	"salmon":         {208, 20, 0, 13},
	"tofu":           {76, 8, 1.9, 4.8},
	"yogurt":         {59, 10, 3.6, 0.4},
}

// tableKeys is sorted longest first so "chicken breast" wins over "chicken".
var tableKeys = func() []string {
	keys := make([]string, 0, len(foodTable))
	for k := range foodTable {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// Lookup returns per-100 g values for name and whether the table knew it.
func Lookup(name string) (Nutrients, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if v, ok := foodTable[n]; ok {
		return v, true
	}
	for _, k := range tableKeys {
		if strings.Contains(n, k) {
			return foodTable[k], true
		}
	}
	return genericFood, false
}

// Scale converts per-100 g values to a portion of grams.
func (n Nutrients) Scale(grams float64) Nutrients {
	f := grams / 100
	return Nutrients{
		Calories: round1(n.Calories * f),
		Protein:  round1(n.Protein * f),
		Carbs:    round1(n.Carbs * f),
		Fat:      round1(n.Fat * f),
	}
}

func round1(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*10+0.5)) / 10
	}
	return float64(int64(v*10+0.5)) / 10
}
