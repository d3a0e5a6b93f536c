package rootmap

// DefaultRoots is the canonical whitelist in display order.
func DefaultRoots() []string {
	return []string{
		"food",
		"household",
		"tools",
		"materials",
		"chemicals",
		"organisms",
		"uncategorized",
	}
}

// DefaultSimilar maps interchangeable segment words to one spelling so
// paths like food/foods/x collapse.
func DefaultSimilar() map[string]string {
	return map[string]string{
		"foods":     "food",
		"food":      "food",
		"beverages": "beverages",
		"drinks":    "beverages",
	}
}

// DefaultTables holds the built-in native-prefix tables. Open Food
// Facts splits groceries across many disjoint tops that all belong
// under food; AGROVOC roots its hierarchy in broad product and
// material classes. Prefix keys are matched longest-first, so forest
// products diverge from the other product classes.
func DefaultTables() map[string]map[string]string {
	off := map[string]string{
		"plant-based foods and beverages": "food",
		"plant-based foods":               "food",
		"animal-based foods":              "food",
		"beverages":                       "food",
		"dairies":                         "food",
		"meats":                           "food",
		"seafood":                         "food",
		"cereals and potatoes":            "food",
		"cereals and their products":      "food",
		"fats":                            "food",
		"sugary snacks":                   "food",
		"salty snacks":                    "food",
		"snacks":                          "food",
		"meals":                           "food",
		"breakfasts":                      "food",
		"desserts":                        "food",
		"spreads":                         "food",
		"sweeteners":                      "food",
		"condiments":                      "food",
		"sauces":                          "food",
		"baby foods":                      "food",
		"dietary supplements":             "food",
		"frozen foods":                    "food",
		"canned foods":                    "food",
		"dried products":                  "food",
		"fried foods":                     "food",
		"groceries":                       "food",
		"food additives":                  "food",
		"ingredients":                     "food",
	}

	agrovoc := map[string]string{
		"products":                 "food",
		"plant products":           "food",
		"animal products":          "food",
		"processed products":       "food",
		"aquatic products":         "food",
		"products/forest products": "materials",
		"equipment":                "tools",
		"materials":                "materials",
		"chemicals":                "chemicals",
		"organisms":                "organisms",
	}

	return map[string]map[string]string{
		"off":     off,
		"agrovoc": agrovoc,
	}
}
