package merge

// DefaultFoodTerms returns the curated food and agriculture term set.
// A query matching one of these prefers the agricultural source over the
// encyclopedic one; everything else is tried the other way around.
func DefaultFoodTerms() []string {
	return []string{
		"food", "vegetable", "vegetables", "fruit", "fruits", "meat", "fish",
		"grain", "grains", "cereal", "cereals", "dairy", "spice", "spices",
		"herb", "herbs", "potato", "potatoes", "carrot", "carrots", "onion",
		"onions", "tomato", "tomatoes", "apple", "apples", "banana", "bananas",
		"rice", "wheat", "corn", "maize", "bean", "beans", "pea", "peas",
		"lentil", "lentils", "nut", "nuts", "seed", "seeds", "oil", "oils",
		"sugar", "salt", "pepper", "garlic", "ginger", "cinnamon", "flour",
		"bread", "pasta", "noodle", "noodles", "cheese", "milk", "butter",
		"egg", "eggs", "chicken", "beef", "pork", "lamb", "salmon", "tuna",
		"shrimp", "crab", "lobster", "oyster", "mussel", "clam", "squid",
		"wine", "beer", "coffee", "tea", "juice", "water", "soda", "alcohol",
		"honey", "jam", "jelly", "syrup", "sauce", "vinegar", "mustard",
		"ketchup", "mayonnaise", "olive", "olives", "pickle", "pickles",
		"canned", "frozen", "dried", "fresh", "organic", "preserves",
	}
}
