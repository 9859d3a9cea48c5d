// internal/ordering/extractor/keywords.go
package extractor

// defaultKeywords is the built-in grocery vocabulary used by the heuristic
// extractor. Entries are folded and singular.
var defaultKeywords = []string{
	// drinks
	"agua", "pepsi", "coca", "cocacola", "refresco", "gaseosa", "soda", "sprite",
	"fanta", "cerveza", "jugo", "leche", "cafe", "vino", "ron", "tequila", "whisky",
	"hielo", "yogurt", "yogur",
	// pantry
	"aceite", "arroz", "azucar", "harina", "pan", "huevo", "queso", "sal", "frijol",
	"pasta", "atun", "sardina", "galleta", "cereal", "avena", "mayonesa", "salsa",
	"mantequilla", "chocolate", "tortilla", "dulce", "chicle", "botana", "papita",
	// fresh
	"pollo", "carne", "tomate", "cebolla", "papa", "manzana", "platano", "limon",
	"naranja",
	// household
	"papel", "jabon", "detergente", "cloro", "servilleta", "panal", "shampoo",
}

// breakWords never extend a product phrase.
var breakWords = map[string]bool{
	"gracias": true, "gracia": true, "plis": true, "please": true, "hoy": true,
	"manana": true, "ahora": true, "ya": true, "tambien": true, "ademas": true,
	"mas": true, "bien": true, "todo": true, "nada": true, "eso": true,
	"esto": true, "quiero": true, "dame": true, "necesito": true, "mandame": true,
	"manda": true, "traeme": true, "ponme": true, "quisiera": true, "pf": true,
	"porfa": true, "no": true, "si": true, "tarde": true, "noche": true,
	"temprano": true, "algun": true, "alguno": true, "algunos": true,
	"x": true,
}
