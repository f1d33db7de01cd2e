package registry

// Household returns the registry of the household planner dataset.
func Household() *Registry {
	return MustNew(
		Table{
			Name:       "ingredients",
			PrimaryKey: "id",
			Fields: []Field{
				{Name: "id", Kind: Int},
				{Name: "name", Kind: String},
				{Name: "unit", Kind: String, Nullable: true},
				{Name: "calories_per_unit", Kind: Float, Nullable: true},
				{Name: "in_pantry", Kind: Bool},
				{Name: "created_at", Kind: Time},
			},
		},
		Table{
			Name:       "recipes",
			PrimaryKey: "id",
			Fields: []Field{
				{Name: "id", Kind: Int},
				{Name: "title", Kind: String},
				{Name: "servings", Kind: Int},
				{Name: "prep_minutes", Kind: Int, Nullable: true},
				{Name: "tags", Kind: JSON, Nullable: true},
				{Name: "created_at", Kind: Time},
			},
		},
		Table{
			Name:       "recipe_ingredients",
			PrimaryKey: "id",
			Fields: []Field{
				{Name: "id", Kind: Int},
				{Name: "recipe_id", Kind: Int, Ref: "recipes"},
				{Name: "ingredient_id", Kind: Int, Ref: "ingredients"},
				{Name: "quantity", Kind: Float},
			},
		},
		Table{
			Name:       "meals",
			PrimaryKey: "id",
			Fields: []Field{
				{Name: "id", Kind: Int},
				{Name: "recipe_id", Kind: Int, Ref: "recipes"},
				{Name: "planned_for", Kind: Time},
				{Name: "slot", Kind: String},
				{Name: "eaten", Kind: Bool},
				{Name: "notes", Kind: String, Nullable: true},
			},
		},
		Table{
			Name:       "activities",
			PrimaryKey: "id",
			Fields: []Field{
				{Name: "id", Kind: Int},
				{Name: "name", Kind: String},
				{Name: "category", Kind: String},
				{Name: "duration_minutes", Kind: Int},
				{Name: "indoor", Kind: Bool},
			},
		},
		Table{
			Name:       "activity_logs",
			PrimaryKey: "id",
			Fields: []Field{
				{Name: "id", Kind: Int},
				{Name: "activity_id", Kind: Int, Ref: "activities"},
				{Name: "started_at", Kind: Time},
				{Name: "rating", Kind: Int, Nullable: true},
			},
		},
	)
}
