package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"log"
	"math/rand"

	"github.com/google/uuid"

	"github.com/itiky/drawsync/model"
)

type (
	// BoardSeed is the serialized initial state of a board (pages and their
	// shapes), used to preload the relay server.
	BoardSeed struct {
		BoardId string
		Records []model.Record
	}
)

// GenAndSaveBoardSeed generates a random board and saves it to file system.
func GenAndSaveBoardSeed(filePath, boardId string, numPages, shapesPerPage int) error {
	if boardId == "" {
		return fmt.Errorf("%s: empty", "boardId")
	}
	if numPages <= 0 {
		return fmt.Errorf("%s: must be GT 0", "numPages")
	}
	if shapesPerPage < 0 {
		return fmt.Errorf("%s: must be GTE 0", "shapesPerPage")
	}

	log.Printf("Creating board records...")
	seed := BoardSeed{
		BoardId: boardId,
		Records: newBoardMockRecords(numPages, shapesPerPage),
	}

	log.Printf("GOB marshal...")
	seedRaw := new(bytes.Buffer)
	if err := gob.NewEncoder(seedRaw).Encode(seed); err != nil {
		return fmt.Errorf("GOB marshal: %w", err)
	}

	log.Printf("Saving file...")
	if err := ioutil.WriteFile(filePath, seedRaw.Bytes(), 0644); err != nil {
		return fmt.Errorf("write to file (%s): %w", filePath, err)
	}

	log.Printf("Done")

	return nil
}

// LoadBoardSeed reads a BoardSeed from file system.
func LoadBoardSeed(filePath string) (*BoardSeed, error) {
	data, err := ioutil.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading file (%s): %w", filePath, err)
	}

	seed := BoardSeed{}
	buf := bytes.NewBuffer(data)
	if err := gob.NewDecoder(buf).Decode(&seed); err != nil {
		return nil, fmt.Errorf("GOB unmarshal: %w", err)
	}

	return &seed, nil
}

// NewStoreFromSeed builds a Store preloaded with the seed records.
func NewStoreFromSeed(seed *BoardSeed) *Store {
	s := NewStore()
	for _, rec := range seed.Records {
		s.records[rec.Id()] = rec
	}

	log.Printf("Store created: %d records", len(s.records))

	return s
}

// newBoardMockRecords builds mock page and shape records.
func newBoardMockRecords(numPages, shapesPerPage int) []model.Record {
	recs := make([]model.Record, 0, numPages*(shapesPerPage+1))
	for p := 0; p < numPages; p++ {
		page := model.NewPageRecord(uuid.New().String(), fmt.Sprintf("Page %d", p+1), pageIndexKey(p))
		recs = append(recs, page)

		for i := 0; i < shapesPerPage; i++ {
			recs = append(recs, newShapeMockRecord(page.Id()))
		}
	}

	return recs
}

// newShapeMockRecord builds a mock rectangle shape owned by a page.
func newShapeMockRecord(pageRecordId string) model.Record {
	rec := model.NewRecord(model.ShapeType, model.ShapeRecordId(uuid.New().String()))
	rec["parentId"] = pageRecordId
	rec["x"] = float64(rand.Intn(2000))
	rec["y"] = float64(rand.Intn(2000))
	rec["props"] = map[string]interface{}{
		"w":    float64(rand.Intn(400) + 10),
		"h":    float64(rand.Intn(400) + 10),
		"type": "rect",
	}

	return rec
}

// pageIndexKey builds the p-th page sort key ("a1", "a11", ...).
func pageIndexKey(p int) string {
	key := "a1"
	for i := 0; i < p; i++ {
		key += "1"
	}

	return key
}

func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}
