package channels

import (
	"io"
	"io/ioutil"
	"net/http"

	"github.com/gin-gonic/gin"

	channelController "github.com/lloydmeta/datahub/internal/api/controllers/channel"
	apiChannel "github.com/lloydmeta/datahub/internal/api/models/channel"
	"github.com/lloydmeta/datahub/internal/api/models/common"
	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/infra/server/routing"
)

var subPath = "/channel"

var channelKey = "channel"
var contentKey = "key"
var minuteKey = "minute"

const defaultContentType = "application/octet-stream"

type RoutesHandler struct {
	Controller channelController.Controller
	// Bodies are read up to one byte past this so oversized payloads are
	// rejected without buffering them whole. 0 or less means no limit.
	MaxPayloadBytes int64
}

func (h *RoutesHandler) RegisterRoutes(routerGroup *gin.RouterGroup) {
	subGroup := routerGroup.Group(subPath)
	subGroup.POST("", h.create)
	subGroup.GET("", h.list)
	subGroup.GET("/:"+channelKey, h.get)
	subGroup.PUT("/:"+channelKey, h.put)
	subGroup.DELETE("/:"+channelKey, h.delete)
	subGroup.POST("/:"+channelKey, h.insert)
	subGroup.GET("/:"+channelKey+"/content/:"+contentKey, h.read)
	subGroup.GET("/:"+channelKey+"/time/:"+minuteKey, h.keys)
}

// @Summary Add a new Channel
// @ID create-channel
// @Tags channels
// @Accept  json
// @Produce  json
// @Param   newChannel body channel.NewChannel true "The request body"
// @Success 201 {object} channel.Channel
// @Failure 400 {object} common.Body "Invalid JSON or channel name"
// @Failure 409 {object} common.Body "Name in use"
// @Router /channel [post]
func (h *RoutesHandler) create(c *gin.Context) {
	var newChannel apiChannel.NewChannel
	if err := c.ShouldBindJSON(&newChannel); err != nil {
		routing.HandleJsonSerdesErr(c, err)
	} else {
		if ch, err := h.Controller.Create(c.Request.Context(), &newChannel); err == nil {
			c.JSON(http.StatusCreated, ch)
		} else {
			routing.HandleApiErr(c, err)
		}
	}
}

// @Summary List Channels
// @ID list-channels
// @Tags channels
// @Produce  json
// @Success 200 {array} channel.Channel
// @Router /channel [get]
func (h *RoutesHandler) list(c *gin.Context) {
	if chs, err := h.Controller.List(c.Request.Context()); err == nil {
		c.JSON(http.StatusOK, chs)
	} else {
		routing.HandleApiErr(c, err)
	}
}

// @Summary Get a Channel
// @ID get-channel
// @Tags channels
// @Produce  json
// @Param   channel path string true "The name of the Channel"
// @Success 200 {object} channel.Channel
// @Failure 404 {object} common.Body "Channel does not exist"
// @Router /channel/{channel} [get]
func (h *RoutesHandler) get(c *gin.Context) {
	if ch, err := h.Controller.Get(c.Request.Context(), channelName(c)); err == nil {
		c.JSON(http.StatusOK, ch)
	} else {
		routing.HandleApiErr(c, err)
	}
}

// @Summary Create or update a Channel
// @ID put-channel
// @Tags channels
// @Description Creates the Channel if it does not exist, otherwise replaces its TTL and owner
// @Accept  json
// @Produce  json
// @Param   channel path string true "The name of the Channel"
// @Param   channelUpdate body channel.ChannelUpdate true "The request body"
// @Success 201 {object} channel.Channel
// @Failure 400 {object} common.Body "Invalid JSON or channel name"
// @Failure 409 {object} common.Body "Concurrent update"
// @Router /channel/{channel} [put]
func (h *RoutesHandler) put(c *gin.Context) {
	var update apiChannel.ChannelUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		routing.HandleJsonSerdesErr(c, err)
	} else {
		if ch, _, err := h.Controller.Put(c.Request.Context(), channelName(c), &update); err == nil {
			c.JSON(http.StatusCreated, ch)
		} else {
			routing.HandleApiErr(c, err)
		}
	}
}

// @Summary Delete a Channel
// @ID delete-channel
// @Tags channels
// @Description Removes the Channel. Its content is deleted in the background
// @Param   channel path string true "The name of the Channel"
// @Success 202
// @Failure 404 {object} common.Body "Channel does not exist"
// @Router /channel/{channel} [delete]
func (h *RoutesHandler) delete(c *gin.Context) {
	if err := h.Controller.Delete(c.Request.Context(), channelName(c)); err == nil {
		c.Status(http.StatusAccepted)
	} else {
		routing.HandleApiErr(c, err)
	}
}

// @Summary Write content to a Channel
// @ID insert-content
// @Tags content
// @Description The request body is stored as is, along with its Content-Type and Content-Language
// @Accept  */*
// @Produce  json
// @Param   channel path string true "The name of the Channel"
// @Success 201 {object} channel.InsertionResult
// @Failure 404 {object} common.Body "Channel does not exist"
// @Failure 413 {object} common.Body "Payload too large"
// @Failure 503 {object} common.Body "Keys could not be generated"
// @Router /channel/{channel} [post]
func (h *RoutesHandler) insert(c *gin.Context) {
	var body io.Reader = c.Request.Body
	if h.MaxPayloadBytes > 0 {
		body = io.LimitReader(body, h.MaxPayloadBytes+1)
	}
	data, err := ioutil.ReadAll(body)
	if err != nil {
		routing.HandleApiErr(c, &common.ApiError{
			StatusCode: http.StatusBadRequest,
			Body: common.Body{
				Message: "Could not read request body",
			},
		})
		return
	}
	payload := content.New(data, c.GetHeader("Content-Type"), c.GetHeader("Content-Language"))
	name := channelName(c)
	if result, apiErr := h.Controller.Insert(c.Request.Context(), name, &payload); apiErr == nil {
		c.Header("Location", subPath+"/"+string(name)+"/content/"+result.Key)
		c.JSON(http.StatusCreated, result)
	} else {
		routing.HandleApiErr(c, apiErr)
	}
}

// @Summary Read content
// @ID read-content
// @Tags content
// @Produce  */*
// @Param   channel path string true "The name of the Channel"
// @Param   key path string true "The key returned when the content was written"
// @Success 200
// @Failure 400 {object} common.Body "Malformed key"
// @Failure 404 {object} common.Body "No such content"
// @Router /channel/{channel}/content/{key} [get]
func (h *RoutesHandler) read(c *gin.Context) {
	found, apiErr := h.Controller.Read(c.Request.Context(), channelName(c), c.Param(contentKey))
	if apiErr != nil {
		routing.HandleApiErr(c, apiErr)
		return
	}
	contentType := defaultContentType
	if found.ContentType != nil {
		contentType = *found.ContentType
	}
	if found.ContentLanguage != nil {
		c.Header("Content-Language", *found.ContentLanguage)
	}
	if found.LastModified != nil {
		c.Header("Last-Modified", found.LastModified.UTC().Format(http.TimeFormat))
	}
	c.Data(http.StatusOK, contentType, found.Data)
}

// @Summary List keys written during a minute
// @ID list-minute-keys
// @Tags content
// @Produce  json
// @Param   channel path string true "The name of the Channel"
// @Param   minute path string true "The minute, as yyyy-MM-dd-HH-mm in UTC"
// @Success 200 {object} channel.MinuteKeys
// @Failure 400 {object} common.Body "Malformed minute"
// @Failure 404 {object} common.Body "Channel does not exist"
// @Router /channel/{channel}/time/{minute} [get]
func (h *RoutesHandler) keys(c *gin.Context) {
	if keys, err := h.Controller.Keys(c.Request.Context(), channelName(c), c.Param(minuteKey)); err == nil {
		c.JSON(http.StatusOK, keys)
	} else {
		routing.HandleApiErr(c, err)
	}
}

func channelName(c *gin.Context) channel.Name {
	return channel.Name(c.Param(channelKey))
}
