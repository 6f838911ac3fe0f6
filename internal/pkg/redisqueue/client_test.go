package redisqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zyxnine9/xiaohongshu-mcp/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client, err := NewClientWithRedis(rdb)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client, mr
}

func TestClient_TaskFlow(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	task := &model.DetailTask{
		TaskID:          "t-1001",
		FeedID:          "65a1b2c3d4",
		AccessToken:     "ABtoken=",
		LoadAllComments: true,
		Config:          model.LoadConfig{ReplyThreshold: 10, ScrollSpeed: model.SpeedFast},
		CreatedAt:       time.Now(),
	}

	if err := client.PushTask(ctx, task); err != nil {
		t.Fatalf("PushTask failed: %v", err)
	}

	// 同一笔记重复投递
	dup := *task
	dup.TaskID = "t-1002"
	if err := client.PushTask(ctx, &dup); !errors.Is(err, ErrTaskExists) {
		t.Fatalf("expected ErrTaskExists, got %v", err)
	}

	tasks, results, err := client.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("QueueDepth failed: %v", err)
	}
	if tasks != 1 || results != 0 {
		t.Fatalf("expected 1 task, 0 results, got %d tasks, %d results", tasks, results)
	}

	popped, err := client.PopTask(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopTask failed: %v", err)
	}
	if popped.TaskID != task.TaskID || popped.FeedID != task.FeedID || popped.Config.ScrollSpeed != model.SpeedFast {
		t.Fatalf("PopTask data mismatch: %+v", popped)
	}
	if !mr.Exists(KeyTaskStartedHash) {
		t.Fatal("expected started hash to be written")
	}

	if err := client.AckTask(ctx, popped); err != nil {
		t.Fatalf("AckTask failed: %v", err)
	}
	if n, _ := client.Redis().LLen(ctx, KeyTaskProcessingQueue).Result(); n != 0 {
		t.Fatalf("expected empty processing queue, got %d", n)
	}

	// ack 之后同一笔记可以再次投递
	if err := client.PushTask(ctx, &dup); err != nil {
		t.Fatalf("PushTask after ack failed: %v", err)
	}
}

func TestClient_PopTaskEmpty(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.PopTask(context.Background(), 100*time.Millisecond)
	if !errors.Is(err, ErrNoTask) {
		t.Fatalf("expected ErrNoTask, got %v", err)
	}
}

func TestClient_ResultFlow(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	res := &model.DetailResult{
		TaskID: "t-1001",
		FeedID: "65a1b2c3d4",
		Detail: &model.FeedDetail{
			Item:     model.ContentItem{ID: "65a1b2c3d4", Title: "周末去哪儿"},
			Comments: []model.CommentRecord{{ID: "c1", ParentContentID: "65a1b2c3d4"}},
		},
		Stats: model.LoadStats{CommentsLoaded: 1, Termination: model.TerminationEndMarker},
	}
	if err := client.PushResult(ctx, res); err != nil {
		t.Fatalf("PushResult failed: %v", err)
	}

	popped, err := client.PopResult(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopResult failed: %v", err)
	}
	if !popped.Succeeded() {
		t.Fatalf("expected successful result, got %+v", popped)
	}
	if len(popped.Detail.Comments) != 1 || popped.Stats.Termination != model.TerminationEndMarker {
		t.Fatalf("result data mismatch: %+v", popped)
	}
}

func TestClient_RescueStuckTasks(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	task := &model.DetailTask{TaskID: "t-stuck", FeedID: "f-stuck", AccessToken: "x"}
	if err := client.PushTask(ctx, task); err != nil {
		t.Fatalf("PushTask failed: %v", err)
	}
	if _, err := client.PopTask(ctx, time.Second); err != nil {
		t.Fatalf("PopTask failed: %v", err)
	}

	// 未超时不处理
	n, err := client.RescueStuckTasks(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("expected no rescue, got %d, %v", n, err)
	}

	// 把开始时间改到很久以前
	client.Redis().HSet(ctx, KeyTaskStartedHash, task.TaskID, time.Now().Add(-time.Hour).Unix())
	n, err = client.RescueStuckTasks(ctx, time.Minute)
	if err != nil {
		t.Fatalf("RescueStuckTasks failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 rescued task, got %d", n)
	}
	tasks, _, _ := client.QueueDepth(ctx)
	if tasks != 1 {
		t.Fatalf("expected task back in queue, got depth %d", tasks)
	}
}

func TestClient_CommentTasksDoNotBlockDetail(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	comment := &model.DetailTask{TaskID: "t-c1", Kind: model.TaskKindComment, FeedID: "65a1b2c3d4", AccessToken: "x", Content: "好看"}
	reply := &model.DetailTask{TaskID: "t-r1", Kind: model.TaskKindReply, FeedID: "65a1b2c3d4", AccessToken: "x", Content: "谢谢", CommentID: "c-9"}
	detail := &model.DetailTask{TaskID: "t-d1", FeedID: "65a1b2c3d4", AccessToken: "x"}

	for _, task := range []*model.DetailTask{comment, reply, detail} {
		if err := client.PushTask(ctx, task); err != nil {
			t.Fatalf("PushTask(%s) failed: %v", task.TaskID, err)
		}
	}
	// 同一笔记的第二个评论任务同样可以投递
	second := *comment
	second.TaskID = "t-c2"
	if err := client.PushTask(ctx, &second); err != nil {
		t.Fatalf("PushTask second comment failed: %v", err)
	}

	popped, err := client.PopTask(ctx, time.Second)
	if err != nil {
		t.Fatalf("PopTask failed: %v", err)
	}
	if popped.TaskID != "t-c1" || popped.EffectiveKind() != model.TaskKindComment || popped.Content != "好看" {
		t.Fatalf("PopTask data mismatch: %+v", popped)
	}

	if err := client.AckTask(ctx, popped); err != nil {
		t.Fatalf("AckTask failed: %v", err)
	}
	members, err := mr.Members(KeyTaskPendingSet)
	if err != nil {
		t.Fatalf("read pending set: %v", err)
	}
	for _, m := range members {
		if m == "comment:t-c1" {
			t.Fatalf("comment placeholder not released: %v", members)
		}
	}
	if ok, _ := mr.IsMember(KeyTaskPendingSet, "65a1b2c3d4"); !ok {
		t.Fatalf("detail placeholder released by comment ack: %v", members)
	}
}
