package export

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Sicurezza":              "sicurezza",
		"Qualità & Pulizia":      "qualita-pulizia",
		"  Asse  2 / Riduttore ": "asse-2-riduttore",
		"Perché?!":               "perche",
		"":                       "",
		"---":                    "",
	}
	for in, want := range cases {
		require.Equal(t, want, Normalize(in), in)
	}
}

func TestResolveStructuredName(t *testing.T) {
	r := NewNamingResolver(models.NamingStructured, fixtureTime)
	item := models.CheckItem{ID: "m1", Title: "Riduttore asse 2", Photos: []models.PhotoRef{{Path: "a.jpg"}, {Path: "b.jpg", Caption: "Perdita olio"}}}

	require.Equal(t, "02_meccanica_riduttore-asse-2_foto1.jpg", r.Resolve(1, "Meccanica", item, 0, ""))
	require.Equal(t, "02_meccanica_riduttore-asse-2_perdita-olio.jpg", r.Resolve(1, "Meccanica", item, 1, "Perdita olio"))
}

func TestResolveTruncatesParts(t *testing.T) {
	r := NewNamingResolver(models.NamingStructured, fixtureTime)
	item := models.CheckItem{ID: "x", Title: strings.Repeat("voce molto lunga ", 5)}
	name := r.Resolve(0, "Sezione con un titolo decisamente lungo", item, 0, strings.Repeat("didascalia ", 10))

	require.LessOrEqual(t, len(name), 80)
	require.True(t, strings.HasPrefix(name, "01_sezione-con-un-titol_"), name)
	require.True(t, strings.HasSuffix(name, ".jpg"))
	parts := strings.SplitN(name, "_", 4)
	require.LessOrEqual(t, len(parts[1]), 20)
	require.LessOrEqual(t, len(parts[2]), 30)
}

func TestResolveIsDeterministic(t *testing.T) {
	agg := sampleAggregate(photo("a.jpg", "Vista frontale"), photo("b.jpg", ""))
	first := NewNamingResolver(models.NamingStructured, fixtureTime)
	first.ResolveAll(agg)
	second := NewNamingResolver(models.NamingStructured, fixtureTime)
	second.ResolveAll(agg)
	require.Equal(t, first.Names(), second.Names())

	item := agg.Sections[1].Items[0]
	require.Equal(t, first.Resolve(1, "Meccanica", item, 0, "Vista frontale"), first.Resolve(1, "Meccanica", item, 0, "Vista frontale"))
}

func TestResolveCollisionsGetNumericSuffix(t *testing.T) {
	r := NewNamingResolver(models.NamingStructured, fixtureTime)
	// two items whose titles normalize to the same text
	a := models.CheckItem{ID: "a", Title: "Cavo #1", Photos: []models.PhotoRef{{Path: "1.jpg", Caption: "dettaglio"}}}
	b := models.CheckItem{ID: "b", Title: "Cavo 1", Photos: []models.PhotoRef{{Path: "2.jpg", Caption: "dettaglio"}}}
	c := models.CheckItem{ID: "c", Title: "cavo-1", Photos: []models.PhotoRef{{Path: "3.jpg", Caption: "dettaglio"}}}

	require.Equal(t, "01_impianto_cavo-1_dettaglio.jpg", r.Resolve(0, "Impianto", a, 0, "dettaglio"))
	require.Equal(t, "01_impianto_cavo-1_dettaglio_2.jpg", r.Resolve(0, "Impianto", b, 0, "dettaglio"))
	require.Equal(t, "01_impianto_cavo-1_dettaglio_3.jpg", r.Resolve(0, "Impianto", c, 0, "dettaglio"))
}

func TestResolveSharedItemIDKeepsNamesDistinct(t *testing.T) {
	r := NewNamingResolver(models.NamingStructured, fixtureTime)
	agg := &models.CheckUpAggregate{Sections: []models.Section{
		{Title: "Sicurezza"},
		{Title: "Meccanica", Items: []models.CheckItem{
			{ID: "1", Title: "Riduttore", Photos: []models.PhotoRef{{Path: "a.jpg"}}},
			{ID: "1", Title: "Cinghia", Photos: []models.PhotoRef{{Path: "b.jpg"}}},
		}},
	}}
	r.ResolveAll(agg)

	require.Equal(t, []string{"02_meccanica_riduttore_foto1.jpg", "02_meccanica_cinghia_foto1.jpg"}, r.Names())
	items := agg.Sections[1].Items
	require.Equal(t, "02_meccanica_cinghia_foto1.jpg", r.Resolve(1, "Meccanica", items[1], 0, ""))
}

func TestResolveCollisionAfterTruncationStaysWithinLimit(t *testing.T) {
	r := NewNamingResolver(models.NamingStructured, fixtureTime)
	longCaption := strings.Repeat("x", 100)
	a := models.CheckItem{ID: "a", Title: "Voce", Photos: []models.PhotoRef{{Path: "1.jpg"}}}
	b := models.CheckItem{ID: "b", Title: "Voce", Photos: []models.PhotoRef{{Path: "2.jpg"}}}

	first := r.Resolve(0, "Sezione", a, 0, longCaption+"a")
	second := r.Resolve(0, "Sezione", b, 0, longCaption+"b")
	require.NotEqual(t, first, second)
	require.Len(t, first, 80)
	require.LessOrEqual(t, len(second), 80)
	require.True(t, strings.HasSuffix(second, "_2.jpg"), second)
}

func TestResolveSequentialAndTimestamp(t *testing.T) {
	agg := sampleAggregate(photo("a.jpg", "uno"), photo("b.jpg", "due"))

	seq := NewNamingResolver(models.NamingSequential, fixtureTime)
	seq.ResolveAll(agg)
	require.Equal(t, []string{"foto_001.jpg", "foto_002.jpg"}, seq.Names())

	ts := NewNamingResolver(models.NamingTimestamp, fixtureTime)
	ts.ResolveAll(agg)
	// both photos share a capture time, so the second one is suffixed
	require.Equal(t, []string{"foto_20240315_093000.jpg", "foto_20240315_093000_2.jpg"}, ts.Names())

	noTime := NewNamingResolver(models.NamingTimestamp, fixtureTime.Add(time.Minute))
	item := models.CheckItem{ID: "z", Title: "Z", Photos: []models.PhotoRef{{Path: "z.jpg"}}}
	require.Equal(t, "foto_20240315_093100.jpg", noTime.Resolve(0, "S", item, 0, ""))
}

func TestResolveAllNamesArePairwiseDistinct(t *testing.T) {
	var sections []models.Section
	for s := 0; s < 3; s++ {
		var items []models.CheckItem
		for i := 0; i < 4; i++ {
			items = append(items, models.CheckItem{
				ID:     string(rune('a'+s)) + string(rune('0'+i)),
				Title:  "Controllo",
				Photos: []models.PhotoRef{{Path: "p.jpg", Caption: "foto"}, {Path: "q.jpg", Caption: "foto"}},
			})
		}
		sections = append(sections, models.Section{Title: "Stessa sezione", Items: items})
	}
	agg := &models.CheckUpAggregate{Sections: sections}

	for _, strategy := range []models.NamingStrategy{models.NamingStructured, models.NamingSequential, models.NamingTimestamp} {
		r := NewNamingResolver(strategy, fixtureTime)
		r.ResolveAll(agg)
		names := r.Names()
		require.Len(t, names, 24, strategy)
		seen := map[string]bool{}
		for _, n := range names {
			require.False(t, seen[n], "duplicate %s with %s", n, strategy)
			require.LessOrEqual(t, len(n), 80)
			seen[n] = true
		}
	}
}

func TestResolveConcurrentCallersAgree(t *testing.T) {
	agg := sampleAggregate(photo("a.jpg", "uno"), photo("b.jpg", "due"))
	r := NewNamingResolver(models.NamingStructured, fixtureTime)
	item := agg.Sections[1].Items[0]

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(1, "Meccanica", item, i%2, item.Photos[i%2].Caption)
		}(i)
	}
	wg.Wait()
	for i, name := range results {
		require.Equal(t, results[i%2], name)
	}
	require.Len(t, r.Names(), 2)
}
