package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/streadway/amqp"
	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/models"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/pkg/metrics"
	"gitlab.com/transcodeuz/media-engine/tools/ncm"
	"gitlab.com/transcodeuz/media-engine/tools/storage"
	"gitlab.com/transcodeuz/media-engine/tools/supervisor"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// progress updates closer than this are not published
const progressStep = 10

// Job is the structure which added to the queue
type Job struct {
	data amqp.Delivery
}

// Publisher sends status updates to the write queue
type Publisher interface {
	PublishJobStatus(req *models.JobStatusMessage) error
}

// Consumer delivers jobs from the listen queue
type Consumer interface {
	Consume() (<-chan amqp.Delivery, error)
	Reconnect() error
}

// Runner starts and supervises a built command
type Runner interface {
	Start(ctx context.Context, cmd transcoder.BuiltCommand, outputPath string) (*supervisor.Job, error)
}

// Decryptor unwraps ncm containers
type Decryptor interface {
	DecryptFile(ctx context.Context, path string) (*ncm.Result, error)
}

// CloudFactory connects to the storage named in a message
type CloudFactory func(target *models.CloudStorageConfig, log logger.Logger) (storage.CloudOperationsI, error)

// Options ...
type Options struct {
	Config       *config.Config
	Log          logger.Logger
	LocalStorage storage.FileOperationsI
	CloudStorage CloudFactory
	Transcoder   transcoder.Transcoder
	Profiles     *transcoder.ProfileCache
	Supervisor   Runner
	Decryptor    Decryptor
	Publisher    Publisher
	Consumer     Consumer
}

// MainI - interface containing main functions for handler
type MainI interface {
	ListenNotifications(ctx context.Context) error
	Process(ctx context.Context, msg *models.TranscodeMessage) models.JobStatusMessage
}

// task carries one job between the workers
type task struct {
	msg       *models.TranscodeMessage
	mode      string
	status    models.JobStatusMessage
	output    string
	command   transcoder.BuiltCommand
	decrypted string
	log       logger.Logger
}

type handlerObj struct {
	cfg              *config.Config
	log              logger.Logger
	transcoder       transcoder.Transcoder
	profiles         *transcoder.ProfileCache
	supervisor       Runner
	decryptor        Decryptor
	CloudStorage     CloudFactory
	LocalStorage     storage.FileOperationsI
	publisher        Publisher
	consumer         Consumer
	preparationQueue chan Job
	transcodeQueue   chan *task
	fileQueue        chan *task
}

// NewHandler - returns the handler object
func NewHandler(args Options) MainI {
	return newHandler(args)
}

func newHandler(args Options) *handlerObj {
	cloud := args.CloudStorage
	if cloud == nil {
		cloud = storage.NewCloudStorage
	}
	profiles := args.Profiles
	if profiles == nil {
		profiles = transcoder.NewProfileCache()
	}

	return &handlerObj{
		cfg:              args.Config,
		log:              args.Log,
		transcoder:       args.Transcoder,
		profiles:         profiles,
		supervisor:       args.Supervisor,
		decryptor:        args.Decryptor,
		CloudStorage:     cloud,
		LocalStorage:     args.LocalStorage,
		publisher:        args.Publisher,
		consumer:         args.Consumer,
		preparationQueue: make(chan Job, args.Config.TranscodeWorkers),
		transcodeQueue:   make(chan *task, args.Config.TranscodeWorkers),
		fileQueue:        make(chan *task, args.Config.UploadWorkers),
	}
}

func (h *handlerObj) ListenNotifications(ctx context.Context) error {
	for i := 0; i < h.cfg.TranscodeWorkers; i++ {
		go h.PreparationWorker(ctx, i)
		go h.TranscodeWorker(ctx, i)
	}

	for i := 0; i < h.cfg.UploadWorkers; i++ {
		go h.CloudStorageWorker(ctx, i)
	}

	h.log.Info("Started listening for notifications")

	for {
		msgs, err := h.consumer.Consume()
		if err != nil {
			h.log.Error("Error while consuming messages", logger.Error(err))
			if err = h.consumer.Reconnect(); err != nil {
				return fmt.Errorf("couldn't reconnect to rabbitmq: %w", err)
			}
			if !sleep(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}

	deliveries:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case data, ok := <-msgs:
				if !ok {
					break deliveries
				}
				h.AddPreparationQueue(Job{data: data})
				if err := data.Ack(false); err != nil {
					h.log.Warn("Error while acknowledging message", logger.Error(err))
				}
			}
		}

		h.log.Warn("delivery channel closed, consuming again")
		if !sleep(ctx, 5*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (h *handlerObj) PreparationWorker(ctx context.Context, id int) {
	workerId := "worker[" + strconv.Itoa(id) + "] PREPARATION"
	h.log.Info(workerId, logger.String("action", "[STARTING]"))

	for job := range h.preparationQueue {
		msg := &models.TranscodeMessage{}
		err := json.Unmarshal(job.data.Body, msg)
		if err != nil {
			h.log.Error("[-] UNMARSHAL", logger.Error(err))
			continue
		}

		h.log.Info(workerId, logger.String("action", "[GET]"), logger.String("message[id]", msg.Id))

		if t, ok := h.Prepare(ctx, msg); ok {
			h.AddTranscodeQueue(t)
		}
	}
}

func (h *handlerObj) TranscodeWorker(ctx context.Context, id int) {
	workerId := "worker[" + strconv.Itoa(id) + "] TRANSCODER"
	h.log.Info(workerId, logger.String("action", "[STARTING]"))

	for t := range h.transcodeQueue {
		h.log.Info(workerId, logger.String("action", "[GET]"), logger.String("message[id]", t.msg.Id))

		if h.Transcode(ctx, t) && t.msg.Storage != nil {
			h.AddCloudStorageQueue(t)
			continue
		}
		h.cleanup(t)
	}
}

func (h *handlerObj) CloudStorageWorker(ctx context.Context, id int) {
	workerId := "worker[" + strconv.Itoa(id) + "] UPLOADER"
	h.log.Info(workerId, logger.String("action", "[STARTING]"))

	for t := range h.fileQueue {
		h.log.Info(workerId, logger.String("action", "[GET]"), logger.String("message[id]", t.msg.Id))

		h.UploadToCloud(ctx, t)
		h.cleanup(t)
	}
}

func (h *handlerObj) AddPreparationQueue(job Job) {
	h.preparationQueue <- job
}

func (h *handlerObj) AddTranscodeQueue(t *task) {
	h.transcodeQueue <- t
}

func (h *handlerObj) AddCloudStorageQueue(t *task) {
	h.fileQueue <- t
}

// Process runs one job through every stage on the calling goroutine and returns the last status
func (h *handlerObj) Process(ctx context.Context, msg *models.TranscodeMessage) models.JobStatusMessage {
	t, ok := h.Prepare(ctx, msg)
	if !ok {
		return t.status
	}
	defer h.cleanup(t)

	if !h.Transcode(ctx, t) || msg.Storage == nil {
		return t.status
	}

	h.UploadToCloud(ctx, t)
	return t.status
}

// Prepare fetches the input, decrypts ncm containers and builds the command.
// ok is false once the failure has been published.
func (h *handlerObj) Prepare(ctx context.Context, msg *models.TranscodeMessage) (*task, bool) {
	t := &task{
		msg: msg,
		log: h.log.With(logger.String("message_id", msg.Id)),
		status: models.JobStatusMessage{
			Id:        msg.Id,
			Stage:     h.cfg.Stages.Preparation,
			Status:    h.cfg.Status.Pending,
			OutputKey: msg.OutputKey,
			ErrorCode: Success,
		},
	}
	h.publish(t)

	mode, err := normalizeMode(msg.Mode)
	if err != nil {
		h.fail(t, "Invalid job mode: ", err)
		return t, false
	}
	t.mode = mode

	if msg.Id == "" || msg.InputURI == "" || msg.OutputKey == "" {
		h.fail(t, "Invalid job: ", fmt.Errorf("id, input_uri and output_key are required: %w", transcoder.ErrInvalidParameter))
		return t, false
	}

	// the id names the job folder under the temp root
	if !validJobID(msg.Id) {
		h.fail(t, "Invalid job: ", fmt.Errorf("id %q is not a single path element: %w", msg.Id, transcoder.ErrInvalidParameter))
		return t, false
	}

	if err = h.LocalStorage.CreateFolder(msg.Id); err != nil {
		h.fail(t, "Error while creating directory: ", err)
		return t, false
	}
	t.output = h.LocalStorage.GetOutputPath(msg.Id, msg.OutputKey)

	input, downloaded, err := h.LocalStorage.LocalInput(ctx, msg.Id, msg.InputURI)
	if err != nil {
		h.fail(t, "Error while downloading input: ", err)
		h.cleanup(t)
		return t, false
	}
	if downloaded {
		t.log.Info("[+] DOWNLOAD INPUT", logger.String("path", input))
	}

	if mode == ModeNcmToMp3 || ncm.IsNCM(input) {
		res, err := h.decryptor.DecryptFile(ctx, input)
		if err != nil {
			metrics.DecryptTotal.WithLabelValues("error").Inc()
			h.fail(t, "Error while decrypting ncm container: ", err)
			h.cleanup(t)
			return t, false
		}
		if res.Verified {
			metrics.DecryptTotal.WithLabelValues("ok").Inc()
		} else {
			metrics.DecryptTotal.WithLabelValues("fallback").Inc()
		}
		t.decrypted = res.Path
		input = res.Path
	}

	switch mode {
	case ModeExtractAudio:
		t.command = h.transcoder.ExtractAudio(input, t.output)
	case ModeExtractVideo:
		t.command = h.transcoder.ExtractVideo(input, t.output)
	case ModeNcmToMp3:
		t.command = h.transcoder.EncryptedAudioToMp3(input, t.output)
	default:
		req, err := RequestFromMessage(msg, input, t.output)
		if err == nil {
			t.command, err = h.transcoder.Build(req, h.profiles.Current())
		}
		if err != nil {
			h.fail(t, "Error while building the command: ", err)
			h.cleanup(t)
			return t, false
		}
	}

	t.status.Command = t.command.Argv()
	t.status.Status = h.cfg.Status.Success
	h.publish(t)

	return t, true
}

// Transcode supervises the command and forwards its progress. It reports whether the output is ready.
func (h *handlerObj) Transcode(ctx context.Context, t *task) bool {
	t.status.Stage = h.cfg.Stages.Transcode
	t.status.Status = h.cfg.Status.Pending
	t.status.Progress = 0
	h.publish(t)

	job, err := h.supervisor.Start(ctx, t.command, t.output)
	if err != nil {
		h.fail(t, "Error while starting the transcoder: ", err)
		return false
	}

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	lastPublished := 0
	for ev := range job.Events() {
		if ev.Kind == supervisor.EventProgress && ev.Progress-lastPublished < progressStep && ev.Progress < 99 {
			continue
		}
		lastPublished = ev.Progress

		snap := job.Snapshot()
		t.status.State = ev.State.String()
		t.status.Progress = ev.Progress
		t.status.Message = ev.Message
		t.status.ElapsedMs = snap.Elapsed.Milliseconds()
		t.status.RemainingMs = snap.Remaining.Milliseconds()

		if ev.Kind != supervisor.EventTerminal {
			h.publish(t)
		}
	}

	snap := job.Snapshot()
	metrics.ObserveJob(t.mode, snap.State, snap.Elapsed)

	switch snap.State {
	case transcoder.JobSucceeded:
	case transcoder.JobCancelled:
		t.status.Status = h.cfg.Status.Fail
		t.status.ErrorCode = Cancelled
		t.status.FailDescription = "Transcode was cancelled"
		h.publish(t)
		return false
	default:
		err := snap.Err
		if err == nil {
			err = errors.New(snap.Message)
		}
		h.fail(t, "Error while transcoding: ", err)
		return false
	}

	probe, err := h.transcoder.Probe(ctx, t.output)
	if err != nil {
		metrics.ProbeFailuresTotal.Inc()
		t.log.Warn("could not probe the output", logger.Error(err))
	}
	t.status.Probe = probe
	t.status.Status = h.cfg.Status.Success
	h.publish(t)

	t.log.Info("[+] TRANSCODE", logger.String("output", t.output), logger.Int64("elapsed_ms", t.status.ElapsedMs))
	return true
}

func (h *handlerObj) UploadToCloud(ctx context.Context, t *task) {
	t.status.Stage = h.cfg.Stages.Upload
	t.status.Status = h.cfg.Status.Pending
	h.publish(t)

	start := time.Now()
	cloud, err := h.CloudStorage(t.msg.Storage, t.log)
	if err != nil {
		h.failWithCode(t, InvalidRequest, "Error while connecting to Cloud: ", err)
		return
	}

	key, err := cloud.UploadToCloud(ctx, t.output, t.msg.Storage)
	if err != nil {
		h.failWithCode(t, InternalServerError, "Error while uploading to Cloud: ", err)
		return
	}

	elapsed := time.Since(start)
	metrics.UploadDuration.WithLabelValues(t.msg.Storage.Type).Observe(elapsed.Seconds())

	t.status.OutputKey = key
	t.status.UploadDuration = int(elapsed.Milliseconds())
	t.status.Status = h.cfg.Status.Success
	h.publish(t)
}

// cleanup removes the job folder and any decrypted temp file
func (h *handlerObj) cleanup(t *task) {
	var result error

	if t.output != "" {
		dir := filepath.Dir(t.output)
		if !h.insideTempRoot(dir) {
			result = multierror.Append(result, fmt.Errorf("refusing to remove %q outside %q", dir, h.cfg.TempFolderPath))
		} else if err := h.LocalStorage.RemoveFromDir(dir); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := ncm.Cleanup(t.decrypted); err != nil {
		result = multierror.Append(result, err)
	}

	if result != nil {
		t.log.Error("[-] STORAGE: Couldn't clean up job files", logger.Error(result))
	}
}

func validJobID(id string) bool {
	return id != "." && id != ".." && id == filepath.Base(id) && !strings.ContainsAny(id, `/\`)
}

// insideTempRoot reports whether dir is strictly below the temp root
func (h *handlerObj) insideTempRoot(dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(h.cfg.TempFolderPath), filepath.Clean(dir))
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (h *handlerObj) fail(t *task, description string, err error) {
	h.failWithCode(t, errorCode(err), description, err)
}

func (h *handlerObj) failWithCode(t *task, code, description string, err error) {
	t.log.Error("[-] "+t.status.Stage, logger.Error(err))

	t.status.Status = h.cfg.Status.Fail
	t.status.ErrorCode = code
	t.status.FailDescription = description + err.Error()
	h.publish(t)
}

func (h *handlerObj) publish(t *task) {
	status := t.status
	if err := h.publisher.PublishJobStatus(&status); err != nil {
		t.log.Error("Error while publishing to rabbit mq.", logger.Error(err))
	}
}
