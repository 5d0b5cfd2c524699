package main

import (
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/itiky/drawsync/model"
	"github.com/itiky/drawsync/service/client"
	"github.com/itiky/drawsync/service/pages"
	"github.com/itiky/drawsync/storage"
)

const (
	FlagServerUrl     = "server-url"
	FlagBoardId       = "board-id"
	FlagPageId        = "page-id"
	FlagDrawerId      = "drawer-id"
	FlagDrawerName    = "drawer-name"
	FlagEditPeriod    = "edit-period"
	FlagPointerPeriod = "pointer-period"
)

// GetClientCmd returns the demo drawing client start command.
func GetClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Start a demo drawing client",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			serverUrl, err := cmd.Flags().GetString(FlagServerUrl)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagServerUrl, err)
			}
			boardId, err := cmd.Flags().GetString(FlagBoardId)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagBoardId, err)
			}
			pageId, err := cmd.Flags().GetString(FlagPageId)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagPageId, err)
			}
			drawerId, err := cmd.Flags().GetString(FlagDrawerId)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagDrawerId, err)
			}
			drawerName, err := cmd.Flags().GetString(FlagDrawerName)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagDrawerName, err)
			}
			editDur, err := cmd.Flags().GetDuration(FlagEditPeriod)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagEditPeriod, err)
			}
			pointerDur, err := cmd.Flags().GetDuration(FlagPointerPeriod)
			if err != nil {
				log.Fatalf("%s flag: %v", FlagPointerPeriod, err)
			}

			if drawerId == "" {
				drawerId = uuid.New().String()
			}

			// Resolve the page via the directory
			dir, err := pages.NewDirectory(serverUrl)
			if err != nil {
				log.Fatalf("directory init: %v", err)
			}
			if pageId == "" {
				pageId = resolvePage(dir, boardId)
			}

			// Load the persisted shapes
			store := storage.NewStore()
			cache, err := pages.NewShapeCache(dir)
			if err != nil {
				log.Fatalf("cache init: %v", err)
			}
			defer cache.Watch(store)()

			shapes, err := cache.Shapes(pageId)
			if err != nil {
				log.Fatalf("shape load (%s): %v", pageId, err)
			}
			store.Transact(storage.SourceRemote, func(tx *storage.Tx) {
				for _, shape := range shapes {
					tx.Put(shape)
				}
			})

			// Init session
			factory, err := client.NewWebsocketFactory(wsUrl(serverUrl))
			if err != nil {
				log.Fatalf("transport init: %v", err)
			}
			sess, err := client.NewSession(client.SessionConfig{
				Params: client.ConnParams{
					BoardId:    boardId,
					PageId:     pageId,
					DrawerId:   drawerId,
					DrawerName: drawerName,
				},
				Store:   store,
				Factory: factory,
				PromptReload: func(pageId string) {
					log.Printf("page %s was deleted by a peer, restart the client", pageId)
				},
			})
			if err != nil {
				log.Fatalf("session init: %v", err)
			}
			if err := sess.Open(); err != nil {
				log.Fatalf("session open: %v", err)
			}

			// Draw
			stopCh := make(chan struct{})
			go randomEditWorker(store, model.PageRecordId(pageId), editDur, stopCh)
			go randomPointerWorker(sess, pointerDur, stopCh)

			// Wait for signal
			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
			<-signalCh

			close(stopCh)
			sess.Close()
		},
	}
	cmd.Flags().String(FlagServerUrl, "http://127.0.0.1:2412", "(optional) relay server url")
	cmd.Flags().String(FlagBoardId, "demo", "(optional) board to join")
	cmd.Flags().String(FlagPageId, "", "(optional) page to join (defaults to the first board page)")
	cmd.Flags().String(FlagDrawerId, "", "(optional) unique drawer id")
	cmd.Flags().String(FlagDrawerName, "drawsync-bot", "(optional) drawer display name")
	cmd.Flags().Duration(FlagEditPeriod, 250*time.Millisecond, "(optional) random shape edit period")
	cmd.Flags().Duration(FlagPointerPeriod, 50*time.Millisecond, "(optional) pointer movement period")

	return cmd
}

// resolvePage picks the first board page, creating one for an empty board.
func resolvePage(dir *pages.Directory, boardId string) string {
	boardPages, err := dir.ListPages(boardId)
	if err != nil {
		log.Fatalf("page listing (%s): %v", boardId, err)
	}
	if len(boardPages) > 0 {
		return boardPages[0].PageId
	}

	page, err := dir.CreatePage(boardId, "Page 1")
	if err != nil {
		log.Fatalf("page creation (%s): %v", boardId, err)
	}

	return page.PageId
}

// randomEditWorker performs random shape mutations against the local store;
// the session picks them up through the change subscription.
func randomEditWorker(store *storage.Store, pageRecId string, period time.Duration, stopCh chan struct{}) {
	var ownIds []string

	tickCh := time.Tick(period)
	for {
		select {
		case <-stopCh:
			return
		case <-tickCh:
		}

		switch action := rand.Intn(3); {
		case action == 0 || len(ownIds) == 0:
			// Insert
			rec := model.NewRecord(model.ShapeType, model.ShapeRecordId(uuid.New().String()))
			rec["parentId"] = pageRecId
			rec["x"] = float64(rand.Intn(2000))
			rec["y"] = float64(rand.Intn(2000))
			rec["props"] = map[string]interface{}{
				"w":    float64(rand.Intn(400) + 10),
				"h":    float64(rand.Intn(400) + 10),
				"type": "rect",
			}
			store.Put(storage.SourceLocal, rec)
			ownIds = append(ownIds, rec.Id())
		case action == 1:
			// Update
			id := ownIds[rand.Intn(len(ownIds))]
			if rec, found := store.Get(id); found {
				moved := rec.Clone()
				moved["x"] = float64(rand.Intn(2000))
				moved["y"] = float64(rand.Intn(2000))
				store.Put(storage.SourceLocal, moved)
			}
		default:
			// Delete
			idx := rand.Intn(len(ownIds))
			store.Remove(storage.SourceLocal, ownIds[idx])
			ownIds = append(ownIds[:idx], ownIds[idx+1:]...)
		}
	}
}

// randomPointerWorker simulates cursor movement.
func randomPointerWorker(sess *client.Session, period time.Duration, stopCh chan struct{}) {
	x, y := float64(rand.Intn(2000)), float64(rand.Intn(2000))

	tickCh := time.Tick(period)
	for {
		select {
		case <-stopCh:
			return
		case <-tickCh:
		}

		x += float64(rand.Intn(41) - 20)
		y += float64(rand.Intn(41) - 20)
		sess.UpdatePointer(x, y, model.Camera{X: 0, Y: 0, Z: 1})
	}
}

// wsUrl converts the relay http(s) url to its websocket form.
func wsUrl(serverUrl string) string {
	if strings.HasPrefix(serverUrl, "https://") {
		return "wss://" + strings.TrimPrefix(serverUrl, "https://")
	}
	return "ws://" + strings.TrimPrefix(serverUrl, "http://")
}

func init() {
	rootCmd.AddCommand(GetClientCmd())
}
