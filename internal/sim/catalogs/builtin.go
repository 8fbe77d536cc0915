package catalogs

func box(x1, y1, x2, y2 float64) [2][2]float64 { return [2][2]float64{{x1, y1}, {x2, y2}} }

var overlapMarker = PrototypeDef{
	Name:         OverlapMarkerName,
	Type:         "simple-entity-with-owner",
	CollisionBox: box(-0.4, -0.4, 0.4, 0.4),
	Flags:        []string{"not-blueprintable", "placeable-off-grid"},
}

var builtinPrototypes = []PrototypeDef{
	{Name: "inserter", Type: "inserter", CollisionBox: box(-0.15, -0.15, 0.15, 0.15), FastReplaceableGroup: "inserter"},
	{Name: "fast-inserter", Type: "inserter", CollisionBox: box(-0.15, -0.15, 0.15, 0.15), FastReplaceableGroup: "inserter"},
	{Name: "long-handed-inserter", Type: "inserter", CollisionBox: box(-0.15, -0.15, 0.15, 0.15), FastReplaceableGroup: "long-handed-inserter"},
	{Name: "stack-inserter", Type: "inserter", CollisionBox: box(-0.15, -0.15, 0.15, 0.15), FastReplaceableGroup: "inserter"},

	{Name: "transport-belt", Type: "transport-belt", CollisionBox: box(-0.4, -0.4, 0.4, 0.4), FastReplaceableGroup: "transport-belt"},
	{Name: "fast-transport-belt", Type: "transport-belt", CollisionBox: box(-0.4, -0.4, 0.4, 0.4), FastReplaceableGroup: "transport-belt"},
	{Name: "underground-belt", Type: "underground-belt", CollisionBox: box(-0.4, -0.4, 0.4, 0.4), FastReplaceableGroup: "underground-belt"},
	{Name: "fast-underground-belt", Type: "underground-belt", CollisionBox: box(-0.4, -0.4, 0.4, 0.4), FastReplaceableGroup: "underground-belt"},
	{Name: "splitter", Type: "splitter", CollisionBox: box(-0.9, -0.4, 0.9, 0.4), FastReplaceableGroup: "splitter"},

	{Name: "assembling-machine-1", Type: "assembling-machine", CollisionBox: box(-1.2, -1.2, 1.2, 1.2), FastReplaceableGroup: "assembling-machine"},
	{Name: "assembling-machine-2", Type: "assembling-machine", CollisionBox: box(-1.2, -1.2, 1.2, 1.2), FastReplaceableGroup: "assembling-machine"},
	{Name: "assembling-machine-3", Type: "assembling-machine", CollisionBox: box(-1.2, -1.2, 1.2, 1.2), FastReplaceableGroup: "assembling-machine"},
	{Name: "oil-refinery", Type: "assembling-machine", CollisionBox: box(-2.4, -2.4, 2.4, 2.4)},
	{Name: "chemical-plant", Type: "assembling-machine", CollisionBox: box(-1.2, -1.2, 1.2, 1.2)},
	{Name: "stone-furnace", Type: "furnace", CollisionBox: box(-0.7, -0.7, 0.7, 0.7), FastReplaceableGroup: "furnace"},
	{Name: "steel-furnace", Type: "furnace", CollisionBox: box(-0.7, -0.7, 0.7, 0.7), FastReplaceableGroup: "furnace"},

	{Name: "wooden-chest", Type: "container", CollisionBox: box(-0.35, -0.35, 0.35, 0.35), FastReplaceableGroup: "container"},
	{Name: "iron-chest", Type: "container", CollisionBox: box(-0.35, -0.35, 0.35, 0.35), FastReplaceableGroup: "container"},
	{Name: "steel-chest", Type: "container", CollisionBox: box(-0.35, -0.35, 0.35, 0.35), FastReplaceableGroup: "container"},

	{Name: "small-electric-pole", Type: "electric-pole", CollisionBox: box(-0.15, -0.15, 0.15, 0.15), FastReplaceableGroup: "electric-pole"},
	{Name: "medium-electric-pole", Type: "electric-pole", CollisionBox: box(-0.15, -0.15, 0.15, 0.15), FastReplaceableGroup: "electric-pole"},
	{Name: "pipe", Type: "pipe", CollisionBox: box(-0.29, -0.29, 0.29, 0.29), FastReplaceableGroup: "pipe"},
	{Name: "pipe-to-ground", Type: "pipe-to-ground", CollisionBox: box(-0.29, -0.29, 0.29, 0.2), FastReplaceableGroup: "pipe"},

	{Name: "constant-combinator", Type: "constant-combinator", CollisionBox: box(-0.35, -0.35, 0.35, 0.35), FastReplaceableGroup: "constant-combinator"},
	{Name: "arithmetic-combinator", Type: "arithmetic-combinator", CollisionBox: box(-0.35, -0.65, 0.35, 0.65), FastReplaceableGroup: "arithmetic-combinator"},
	{Name: "decider-combinator", Type: "decider-combinator", CollisionBox: box(-0.35, -0.65, 0.35, 0.65), FastReplaceableGroup: "decider-combinator"},
	{Name: "small-lamp", Type: "lamp", CollisionBox: box(-0.15, -0.15, 0.15, 0.15)},

	overlapMarker,
}
